package clientcmd

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

// NewRunCommand returns the `run` command group: state reads and SSE watch
// against a running server.
func NewRunCommand(apiURL func() string) *cobra.Command {
	runCmd := &cobra.Command{Use: "run", Short: "Run operations"}

	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Print a run's state snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, _ := cmd.Flags().GetString("run-id")
			user, _ := cmd.Flags().GetString("user")
			if runID == "" {
				return fmt.Errorf("--run-id is required")
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet,
				apiURL()+"/v1/runs/state?run_id="+url.QueryEscape(runID), nil)
			if err != nil {
				return err
			}
			setPrincipal(req, user)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("%s: %s", resp.Status, body)
			}
			_, err = io.Copy(os.Stdout, resp.Body)
			return err
		},
	}
	stateCmd.Flags().String("run-id", "", "Run identifier")
	stateCmd.Flags().String("user", "", "Requesting user id (X-User-ID header)")
	runCmd.AddCommand(stateCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream a run's events (SSE) until it completes",
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, _ := cmd.Flags().GetString("run-id")
			user, _ := cmd.Flags().GetString("user")
			lastEventID, _ := cmd.Flags().GetUint64("last-event-id")
			filter, _ := cmd.Flags().GetString("filter")
			if runID == "" {
				return fmt.Errorf("--run-id is required")
			}

			q := url.Values{}
			q.Set("run_id", runID)
			if filter != "" {
				q.Set("filter", filter)
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet,
				apiURL()+"/v1/runs/subscribe?"+q.Encode(), nil)
			if err != nil {
				return err
			}
			setPrincipal(req, user)
			if lastEventID > 0 {
				req.Header.Set("Last-Event-ID", fmt.Sprintf("%d", lastEventID))
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("%s: %s", resp.Status, body)
			}

			// Print frames as they arrive; the server closes the stream on
			// the terminal event.
			sc := bufio.NewScanner(resp.Body)
			sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
			for sc.Scan() {
				line := sc.Text()
				if line == "" || line[0] == ':' {
					continue
				}
				fmt.Println(line)
			}
			return sc.Err()
		},
	}
	watchCmd.Flags().String("run-id", "", "Run identifier")
	watchCmd.Flags().String("user", "", "Requesting user id (X-User-ID header)")
	watchCmd.Flags().Uint64("last-event-id", 0, "Resume after this sequence")
	watchCmd.Flags().String("filter", "", "CEL filter expression")
	runCmd.AddCommand(watchCmd)

	return runCmd
}

// NewConversationCommand returns the `conversation` command group.
func NewConversationCommand(apiURL func() string) *cobra.Command {
	convCmd := &cobra.Command{Use: "conversation", Short: "Conversation operations"}

	activeCmd := &cobra.Command{
		Use:   "active",
		Short: "Show what is generating for a conversation, if anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			convID, _ := cmd.Flags().GetString("conversation-id")
			if convID == "" {
				return fmt.Errorf("--conversation-id is required")
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet,
				apiURL()+"/v1/conversations/active?conversation_id="+url.QueryEscape(convID), nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("%s: %s", resp.Status, body)
			}
			_, err = io.Copy(os.Stdout, resp.Body)
			return err
		},
	}
	activeCmd.Flags().String("conversation-id", "", "Conversation identifier")
	convCmd.AddCommand(activeCmd)

	return convCmd
}

func setPrincipal(req *http.Request, user string) {
	if user == "" {
		user = os.Getenv("RUNBEAM_USER")
	}
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
}
