package cmd

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/loksaikotini/EduCast/internal/auth"
	"github.com/loksaikotini/EduCast/internal/models"
	"github.com/spf13/cobra"
)

type globalOptions struct {
	server  string
	token   string
	secret  string
	userID  string
	name    string
	role    string
	verbose bool
}

var opts globalOptions

var rootCmd = &cobra.Command{
	Use:   "meetprobe",
	Short: "Join and inspect EduCast meetings from the terminal",
	Long: `meetprobe talks to an EduCast server the way the web client does. It can
check whether a meeting is live, list its participants, and join it as a
WebRTC peer that logs every signaling event.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.server, "server", envOr("EDUCAST_SERVER", "http://localhost:5000"), "server base URL")
	pf.StringVar(&opts.token, "token", os.Getenv("EDUCAST_TOKEN"), "bearer token")
	pf.StringVar(&opts.secret, "secret", os.Getenv("JWT_SECRET"), "mint a token with this secret when --token is empty")
	pf.StringVar(&opts.userID, "user", "meetprobe", "user id for a minted token")
	pf.StringVar(&opts.name, "name", "meetprobe", "display name for a minted token")
	pf.StringVar(&opts.role, "role", models.RoleStudent, "role for a minted token")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(checkCmd, joinCmd, tokenCmd)
}

// Execute runs the command tree and reports the error once.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	return err
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// bearer returns --token, or a token minted from --secret.
func bearer() (string, error) {
	if opts.token != "" {
		return opts.token, nil
	}
	if opts.secret == "" {
		return "", fmt.Errorf("either --token or --secret is required")
	}
	return auth.NewVerifier(opts.secret).Issue(models.Identity{
		UserID: opts.userID,
		Name:   opts.name,
		Role:   opts.role,
	}, time.Hour)
}

// socketURL turns the server base URL into the meeting socket URL.
func socketURL() (string, error) {
	u, err := url.Parse(strings.TrimRight(opts.server, "/"))
	if err != nil {
		return "", fmt.Errorf("parse --server: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path += "/ws/video-meeting"
	return u.String(), nil
}
