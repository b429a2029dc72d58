package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the workflow file looked up when none is specified.
const DefaultFile = "dockhand.yaml"

// Workflow is a trigger-bound, ordered sequence of container steps.
type Workflow struct {
	Name  string  `yaml:"name"`
	On    Trigger `yaml:"on"`
	Image Image   `yaml:"image"`
	Steps []Step  `yaml:"steps"`
}

// Trigger declares which events start the workflow.
type Trigger struct {
	Push        *PushTrigger `yaml:"push,omitempty"`
	PullRequest *PRTrigger   `yaml:"pull_request,omitempty"`
}

// PushTrigger fires only for pushes to the listed branches.
type PushTrigger struct {
	Branches []string `yaml:"branches"`
}

// PRTrigger fires for pull requests on any branch.
type PRTrigger struct{}

// Image describes the container image built once per run.
type Image struct {
	Tag        string `yaml:"tag"`
	Dockerfile string `yaml:"dockerfile"`
	Context    string `yaml:"context"`
}

// Step is a single command invocation inside a fresh container instance.
type Step struct {
	Name      string            `yaml:"name"`
	Run       string            `yaml:"run"`
	Env       map[string]string `yaml:"env,omitempty"`
	Mounts    []Mount           `yaml:"mounts,omitempty"`
	Artifacts []Artifact        `yaml:"artifacts,omitempty"`
}

// Mount binds a workspace-relative host path into the step's container.
type Mount struct {
	Host      string `yaml:"host"`
	Container string `yaml:"container"`
}

// Artifact names a file captured from the workspace after the step exits 0.
type Artifact struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// Load reads and validates a workflow file.
func Load(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow file: %w", err)
	}
	var wf Workflow
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse workflow file %s: %w", path, err)
	}
	if err := wf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow %s: %w", path, err)
	}
	return &wf, nil
}

// Validate checks structural invariants of the workflow definition.
func (w *Workflow) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return fmt.Errorf("workflow name is required")
	}
	if w.On.Push == nil && w.On.PullRequest == nil {
		return fmt.Errorf("workflow declares no triggers")
	}
	if w.On.Push != nil && len(w.On.Push.Branches) == 0 {
		return fmt.Errorf("push trigger requires at least one branch")
	}
	if strings.TrimSpace(w.Image.Tag) == "" {
		return fmt.Errorf("image tag is required")
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow has no steps")
	}
	stepNames := map[string]struct{}{}
	artifactNames := map[string]struct{}{}
	for i, step := range w.Steps {
		if strings.TrimSpace(step.Name) == "" {
			return fmt.Errorf("step %d has no name", i+1)
		}
		if _, dup := stepNames[step.Name]; dup {
			return fmt.Errorf("duplicate step name %q", step.Name)
		}
		stepNames[step.Name] = struct{}{}
		if strings.TrimSpace(step.Run) == "" {
			return fmt.Errorf("step %q has no run command", step.Name)
		}
		if _, err := SplitCommand(step.Run); err != nil {
			return fmt.Errorf("step %q: %w", step.Name, err)
		}
		for _, m := range step.Mounts {
			if strings.TrimSpace(m.Host) == "" || strings.TrimSpace(m.Container) == "" {
				return fmt.Errorf("step %q has a mount missing host or container path", step.Name)
			}
			if filepath.IsAbs(m.Host) || !filepath.IsLocal(m.Host) {
				return fmt.Errorf("step %q mount host path %q must stay inside the workspace", step.Name, m.Host)
			}
			if !strings.HasPrefix(m.Container, "/") {
				return fmt.Errorf("step %q mount container path %q must be absolute", step.Name, m.Container)
			}
		}
		for _, a := range step.Artifacts {
			if strings.TrimSpace(a.Name) == "" || strings.TrimSpace(a.Path) == "" {
				return fmt.Errorf("step %q has an artifact missing name or path", step.Name)
			}
			if _, dup := artifactNames[a.Name]; dup {
				return fmt.Errorf("duplicate artifact name %q", a.Name)
			}
			artifactNames[a.Name] = struct{}{}
			if filepath.IsAbs(a.Path) || !filepath.IsLocal(a.Path) {
				return fmt.Errorf("artifact %q path %q must stay inside the workspace", a.Name, a.Path)
			}
		}
	}
	return nil
}

// BuildContext returns the image build context directory, defaulting to ".".
func (i Image) BuildContext() string {
	if strings.TrimSpace(i.Context) == "" {
		return "."
	}
	return i.Context
}

// DockerfileName returns the build description path relative to the context.
func (i Image) DockerfileName() string {
	if strings.TrimSpace(i.Dockerfile) == "" {
		return "Dockerfile"
	}
	return i.Dockerfile
}
