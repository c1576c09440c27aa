package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mjehrhart/viewu-sub000/internal/app"
	"github.com/mjehrhart/viewu-sub000/internal/domain"
	"github.com/mjehrhart/viewu-sub000/internal/infrastructure"
	"github.com/mjehrhart/viewu-sub000/pkg/logger"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch [url]",
	Short: "Download a clip into the documents directory",
	Long: `Download a clip directly from the recorder, without the server.
The file is written to a temporary name and moved into place only when
the download completes.`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringP("name", "n", "", "Destination file name")
	fetchCmd.Flags().String("start-time", "", "Clip start time (RFC3339), used to name the file")
	fetchCmd.Flags().StringP("dir", "d", "", "Destination directory (default: transfer.documents_dir)")
	fetchCmd.Flags().BoolP("quiet", "q", false, "Hide the progress bar")
}

func runFetch(cmd *cobra.Command, args []string) error {
	rawURL := args[0]
	name, _ := cmd.Flags().GetString("name")
	startTime, _ := cmd.Flags().GetString("start-time")
	dir, _ := cmd.Flags().GetString("dir")
	quiet, _ := cmd.Flags().GetBool("quiet")

	config, err := app.LoadConfig(configPath)
	if err != nil {
		return err
	}
	log := logger.NewCLI(verbose)
	defer log.Sync()

	if dir == "" {
		dir = config.Transfer.DocumentsDir
	}
	if name == "" {
		name, err = destinationName(rawURL, startTime, config.Playback.MediaExtension)
		if err != nil {
			return err
		}
	}

	client, err := infrastructure.NewHTTPClient(config.Transport, infrastructure.NewTrustPolicy(config.Transport), log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	headers, err := app.ResolveHeaders(ctx, config.Auth, app.StaticTokenProducers(config.Auth))
	if err != nil {
		return fmt.Errorf("%s: %w", domain.UserMessage(err), err)
	}

	transfers, err := app.NewTransferManager(client, dir, log)
	if err != nil {
		return err
	}
	defer transfers.Close()

	bar := newProgressBar(name, quiet)
	filePath, err := transfers.Download(ctx, app.StartRequest{
		URL:             rawURL,
		Headers:         headers,
		DestinationName: name,
		OnProgress:      bar.Update,
	})
	bar.Finish()
	if err != nil {
		if errors.Is(err, domain.ErrCancelled) {
			return fmt.Errorf("download cancelled")
		}
		return fmt.Errorf("%s", domain.UserMessage(err))
	}

	if err := infrastructure.NewMediaValidator(log).Validate(filePath); err != nil {
		log.Warn("Saved file does not look like a video", zap.String("path", filePath), zap.Error(err))
	}

	fmt.Printf("Saved to: %s\n", filePath)
	return nil
}

// destinationName picks a file name from the clip start time, falling
// back to the last element of the URL path
func destinationName(rawURL, startTime, ext string) (string, error) {
	if startTime != "" {
		start, err := time.Parse(time.RFC3339, startTime)
		if err != nil {
			return "", fmt.Errorf("invalid --start-time: %w", err)
		}
		return domain.ClipFileName(start.Local(), ext), nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" {
		return "", fmt.Errorf("cannot derive a file name from %s, use --name", rawURL)
	}
	return base, nil
}

var trustCmd = &cobra.Command{
	Use:   "trust [host or url]",
	Short: "Show whether an invalid certificate from a host would be accepted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := app.LoadConfig(configPath)
		if err != nil {
			return err
		}

		host := args[0]
		if u, err := url.Parse(host); err == nil && u.Host != "" {
			host = u.Hostname()
		}

		if infrastructure.NewTrustPolicy(config.Transport).ShouldTrust(host) {
			fmt.Printf("%s: trusted (self-signed certificates accepted)\n", host)
		} else {
			fmt.Printf("%s: not trusted (certificate must validate)\n", host)
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with default values",
	RunE: func(cmd *cobra.Command, args []string) error {
		target, _ := cmd.Flags().GetString("path")
		force, _ := cmd.Flags().GetBool("force")

		if target == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			target = filepath.Join(home, ".viewu", "config.yaml")
		}
		if _, err := os.Stat(target); err == nil && !force {
			return fmt.Errorf("%s already exists, use --force to overwrite", target)
		}

		if err := app.SaveConfig(domain.DefaultConfig(), target); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", target)
		return nil
	},
}

func init() {
	configInitCmd.Flags().String("path", "", "Where to write the file (default: ~/.viewu/config.yaml)")
	configInitCmd.Flags().Bool("force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
}
