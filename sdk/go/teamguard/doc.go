// Package teamguard is the guard-side client for the team coordination
// daemon. It discovers a running daemon from the environment, a token
// file or the workspace's runtime descriptors, wraps every daemon
// operation in a typed method, polls the caller's inbox into one-line
// steering summaries, and gates file-mutating tool invocations behind
// the daemon's lease check.
//
// Usage:
//
//	tg, err := teamguard.New(teamguard.WithTeam("demo"), teamguard.WithAgent("worker_a"))
//	if err := tg.CheckTool(ctx, "edit", map[string]any{"file_path": "src/api/main.go"}); err != nil {
//	    var blocked *teamguard.BlockedError
//	    if errors.As(err, &blocked) {
//	        // surface blocked.Reason to the agent
//	    }
//	}
//
// The SDK links directly against internal packages for zero-subprocess
// overhead. External users import github.com/mkdir700/pi-team/sdk/go/teamguard.
package teamguard
