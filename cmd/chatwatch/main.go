// Command chatwatch follows one negotiation or order chat from a terminal and
// rings the bell when the other side writes.
//
//	chatwatch negotiations 0b6f3c52-9a1e-4c1d-8d2f-5e7a9b3c1d40 --name "Ana Souza"
//	chatwatch orders 7d2e4a10-3b5c-4f8e-9a61-c0d1e2f3a4b5 --staff-key $STAFF_API_KEY
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/dealer-negotiation-backend/internal/poller"
	"github.com/tbourn/dealer-negotiation-backend/internal/sysutil"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		baseURL   string
		name      string
		staffKey  string
		staffName string
		interval  time.Duration
		pretty    bool
		quiet     bool
	)

	cmd := &cobra.Command{
		Use:     "chatwatch {negotiations|orders} <id>",
		Short:   "Poll a chat thread and alert on new messages",
		Example: "  chatwatch negotiations 0b6f3c52-9a1e-4c1d-8d2f-5e7a9b3c1d40 --name \"Ana Souza\"\n" +
			"  chatwatch orders 7d2e4a10-3b5c-4f8e-9a61-c0d1e2f3a4b5 --staff-key $STAFF_API_KEY",
		Version: version,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := poller.ThreadKind(args[0])
			if kind != poller.Negotiations && kind != poller.Orders {
				return fmt.Errorf("unknown thread kind %q", args[0])
			}
			sysutil.SetupLogging(os.Getenv("LOG_LEVEL"), pretty, cmd.ErrOrStderr())

			staffKey = sysutil.FirstNonEmpty(staffKey, os.Getenv("STAFF_API_KEY"))
			if staffKey == "" && name == "" {
				return fmt.Errorf("either --name or --staff-key is required")
			}
			role := "CUSTOMER"
			if staffKey != "" {
				role = "DEALER"
			}

			src := &poller.HTTPSource{
				BaseURL:   sysutil.FirstNonEmpty(baseURL, os.Getenv("CHATWATCH_BASE_URL"), "http://localhost:8080/api/v1"),
				Kind:      kind,
				ThreadID:  args[1],
				Name:      name,
				StaffKey:  staffKey,
				StaffName: staffName,
			}

			out := cmd.OutOrStdout()
			var n poller.Notifier = &terminalNotifier{w: out, bell: !quiet && !sysutil.IsTruthy(os.Getenv("CHATWATCH_MUTE"))}
			c := &poller.Coordinator{
				Source:    src,
				Typing:    src,
				Notifier:  n,
				LocalRole: role,
				Interval:  interval,
				OnTyping:  typingPrinter(out),
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			log.Info().Str("kind", string(kind)).Str("thread_id", args[1]).Str("role", role).Msg("watching thread")
			err := c.Run(ctx)
			if err == nil {
				fmt.Fprintln(out, "thread is locked; nothing more to watch")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&baseURL, "base-url", "", "API base URL (env CHATWATCH_BASE_URL)")
	f.StringVarP(&name, "name", "n", "", "customer name claimed on the thread")
	f.StringVar(&staffKey, "staff-key", "", "staff API key (env STAFF_API_KEY)")
	f.StringVar(&staffName, "staff-name", "", "display name for staff requests")
	f.DurationVarP(&interval, "interval", "i", poller.DefaultInterval, "polling interval")
	f.BoolVar(&pretty, "pretty", true, "human-friendly log output")
	f.BoolVarP(&quiet, "quiet", "q", false, "do not ring the terminal bell")
	return cmd
}

// terminalNotifier rings the bell and prints toasts to w. There is no
// platform notification area in a terminal, so Platform logs instead.
type terminalNotifier struct {
	w    io.Writer
	bell bool
}

func (t *terminalNotifier) Sound() {
	if t.bell {
		fmt.Fprint(t.w, "\a")
	}
}

func (t *terminalNotifier) Toast(latest poller.Message, count int) {
	from := sysutil.FirstNonEmpty(latest.SenderName, latest.SenderRole)
	if count > 1 {
		fmt.Fprintf(t.w, "[%s] %s: %s (+%d more)\n", latest.CreatedAt.Local().Format("15:04"), from, latest.Content, count-1)
		return
	}
	fmt.Fprintf(t.w, "[%s] %s: %s\n", latest.CreatedAt.Local().Format("15:04"), from, latest.Content)
}

func (t *terminalNotifier) Platform(latest poller.Message, count int) {
	log.Info().Int("count", count).Uint64("message_id", latest.ID).Msg("new messages")
}

func typingPrinter(w io.Writer) func([]poller.TypingMarker) {
	var showing bool
	return func(markers []poller.TypingMarker) {
		switch {
		case len(markers) > 0 && !showing:
			fmt.Fprintf(w, "%s is typing...\n", markers[0].Role)
			showing = true
		case len(markers) == 0:
			showing = false
		}
	}
}
