package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    []string
	}{
		{"plain words", "poetry run pytest -v", []string{"poetry", "run", "pytest", "-v"}},
		{"double quoted argument", `mkdocs build --site-dir "site out"`, []string{"mkdocs", "build", "--site-dir", "site out"}},
		{"single quoted argument", `echo 'hello world'`, []string{"echo", "hello world"}},
		{"escaped space", `echo hello\ world`, []string{"echo", "hello world"}},
		{"quote inside other quotes", `echo "it's fine"`, []string{"echo", "it's fine"}},
		{"collapsed whitespace", "  poetry \t run   mkdocs\nbuild ", []string{"poetry", "run", "mkdocs", "build"}},
		{"empty command", "   ", nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SplitCommand(tc.command)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSplitCommandUnterminated(t *testing.T) {
	for _, command := range []string{`echo "oops`, `echo 'oops`, `echo oops\`} {
		_, err := SplitCommand(command)
		assert.Error(t, err, command)
	}
}
