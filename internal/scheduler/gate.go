// Copyright Contributors to the Sykli project

package scheduler

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yairfalse/sykli/internal/pipeline"
)

const gatePollInterval = time.Second

// resolveGate blocks until gate resolves true, false, or its timeout
// expires. A nil error with ok=false and timedOut=false means the
// gate was explicitly denied (env var falsy, manual prompt declined);
// timedOut=true always implies ok=false.
func resolveGate(ctx context.Context, g pipeline.Gate) (ok bool, timedOut bool, err error) {
	var deadline <-chan time.Time
	if g.TimeoutSecs > 0 {
		timer := time.NewTimer(time.Duration(g.TimeoutSecs) * time.Second)
		defer timer.Stop()
		deadline = timer.C
	}

	switch g.Strategy {
	case pipeline.GateEnv:
		if deadline == nil {
			return truthy(os.Getenv(g.EnvVar)), false, nil
		}
		ticker := time.NewTicker(gatePollInterval)
		defer ticker.Stop()
		for {
			if truthy(os.Getenv(g.EnvVar)) {
				return true, false, nil
			}
			select {
			case <-ctx.Done():
				return false, false, ctx.Err()
			case <-deadline:
				return false, true, nil
			case <-ticker.C:
			}
		}

	case pipeline.GateFile:
		ticker := time.NewTicker(gatePollInterval)
		defer ticker.Stop()
		for {
			if _, statErr := os.Stat(g.Path); statErr == nil {
				return true, false, nil
			}
			select {
			case <-ctx.Done():
				return false, false, ctx.Err()
			case <-deadline:
				return false, true, nil
			case <-ticker.C:
			}
		}

	case pipeline.GateManual:
		return promptManual(ctx, g, deadline)

	default:
		return false, false, fmt.Errorf("gate %q: unknown strategy %q", g.Name, g.Strategy)
	}
}

func promptManual(ctx context.Context, g pipeline.Gate, deadline <-chan time.Time) (bool, bool, error) {
	prompt := g.Prompt
	if prompt == "" {
		prompt = fmt.Sprintf("approve gate %q? [y/N] ", g.Name)
	}
	fmt.Fprint(os.Stdout, prompt)

	answers := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		answers <- line
	}()

	select {
	case <-ctx.Done():
		return false, false, ctx.Err()
	case <-deadline:
		return false, true, nil
	case line := <-answers:
		return truthy(strings.TrimSpace(line)), false, nil
	}
}

func truthy(s string) bool {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return false
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s == "y" || s == "yes"
}
