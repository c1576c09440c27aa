package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/mjehrhart/viewu-sub000/internal/domain"
)

var playCmd = &cobra.Command{
	Use:   "play [url]",
	Short: "Open a playback session on the server and follow it",
	Long: `Open a playback session for a clip or live stream and follow it until
it is ready or fails. Prints the local media URL for downloaded clips and
the relay URL for streams.`,
	Args: cobra.ExactArgs(1),
	RunE: runPlay,
}

func init() {
	playCmd.Flags().StringP("strategy", "s", "auto", "Playback strategy (auto, stream, download)")
	playCmd.Flags().StringP("name", "n", "", "Artifact file name for downloaded clips")
	playCmd.Flags().Bool("no-follow", false, "Print the session ID and return immediately")
	playCmd.Flags().BoolP("quiet", "q", false, "Hide the progress bar")
}

func runPlay(cmd *cobra.Command, args []string) error {
	strategy, _ := cmd.Flags().GetString("strategy")
	name, _ := cmd.Flags().GetString("name")
	noFollow, _ := cmd.Flags().GetBool("no-follow")
	quiet, _ := cmd.Flags().GetBool("quiet")

	if !domain.ValidateStrategy(domain.PlaybackStrategy(strategy)) {
		return fmt.Errorf("invalid strategy: %s", strategy)
	}

	ensureServer()

	data, err := apiRequest(http.MethodPost, "/api/v1/sessions", domain.PlaybackRequest{
		URL:             args[0],
		Strategy:        domain.PlaybackStrategy(strategy),
		DestinationName: name,
	}, http.StatusCreated)
	if err != nil {
		return err
	}

	var session domain.PlaybackSession
	if err := json.Unmarshal(data, &session); err != nil {
		return err
	}

	fmt.Printf("Session %s (%s)\n", session.ID, session.Strategy)
	if noFollow {
		return nil
	}

	final, err := followSession(session.ID, quiet)
	if err != nil {
		return err
	}

	switch final.State {
	case domain.SessionReady:
		fmt.Println(playbackURL(final))
		return nil
	case domain.SessionFailed:
		return fmt.Errorf("playback failed: %s", final.Message)
	default:
		return fmt.Errorf("session ended in state %s", final.State)
	}
}

// followSession reads session events until the attempt ends and returns
// the session view at that point
func followSession(id string, quiet bool) (domain.PlaybackSession, error) {
	wsURL, err := eventsURL(id)
	if err != nil {
		return domain.PlaybackSession{}, err
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return domain.PlaybackSession{}, fmt.Errorf("failed to follow session: %w", err)
	}
	defer conn.Close()

	bar := newProgressBar("loading", quiet)
	defer bar.Finish()

	for {
		var event domain.SessionEvent
		if err := conn.ReadJSON(&event); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return domain.PlaybackSession{}, fmt.Errorf("session was closed")
			}
			return domain.PlaybackSession{}, err
		}
		bar.Update(event.Progress)
		if verbose {
			fmt.Printf("  %s: %s\n", event.State, event.Status)
		}
		if event.State.IsTerminal() {
			break
		}
	}

	data, err := apiRequest(http.MethodGet, "/api/v1/sessions/"+id, nil, http.StatusOK)
	if err != nil {
		return domain.PlaybackSession{}, err
	}
	var session domain.PlaybackSession
	if err := json.Unmarshal(data, &session); err != nil {
		return domain.PlaybackSession{}, err
	}
	return session, nil
}

func eventsURL(id string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/sessions/" + id + "/events"
	return u.String(), nil
}

// playbackURL is where a player should point for a ready session
func playbackURL(session domain.PlaybackSession) string {
	base := strings.TrimRight(serverURL, "/") + "/api/v1/sessions/" + session.ID
	if session.Strategy == domain.StrategyStream {
		return base + "/stream/"
	}
	return base + "/media"
}
