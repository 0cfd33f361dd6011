package launch

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// ShellLine renders the launch as a single bash command line, with the GPU
// assignments as a prefix. Used for --dry-run.
func (l *Launcher) ShellLine(gpuID string) (string, error) {
	words := append(GPUEnv(gpuID), l.Command()...)

	quoted := make([]string, 0, len(words))
	for i, w := range words {
		if i < 2 {
			// KEY=VALUE: only the value needs quoting.
			key, value, _ := strings.Cut(w, "=")
			q, err := quote(value)
			if err != nil {
				return "", err
			}
			quoted = append(quoted, key+"="+q)
			continue
		}
		q, err := quote(w)
		if err != nil {
			return "", err
		}
		quoted = append(quoted, q)
	}
	return strings.Join(quoted, " "), nil
}

func quote(s string) (string, error) {
	q, err := syntax.Quote(s, syntax.LangBash)
	if err != nil {
		return "", fmt.Errorf("quote %q: %w", s, err)
	}
	return q, nil
}
