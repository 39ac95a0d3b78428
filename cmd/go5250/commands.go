package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ecmumford/go5250"
	"github.com/ecmumford/go5250/codepage"
	"github.com/ecmumford/go5250/stream"
)

var (
	configPath string
	host       string
	port       int
	useTLS     bool
	codePageID string
	deviceName string
	wideScreen bool
	unlockWait int
	sendKeys   []string
)

func init() {
	connectCmd.Flags().StringVar(&configPath, "config", "", "YAML session configuration file")
	connectCmd.Flags().StringVar(&host, "host", "", "Host to connect to (overrides config)")
	connectCmd.Flags().IntVar(&port, "port", 0, "Port (defaults to 23, or 992 with --tls)")
	connectCmd.Flags().BoolVar(&useTLS, "tls", false, "Use transport encryption")
	connectCmd.Flags().StringVar(&codePageID, "codepage", "", "Host code page (e.g. 37, 1140)")
	connectCmd.Flags().StringVar(&deviceName, "device", "", "Device name to request from the host")
	connectCmd.Flags().BoolVar(&wideScreen, "wide", false, "Use the 27x132 display model")
	connectCmd.Flags().IntVar(&unlockWait, "wait", 10, "Seconds to wait for the first input screen")
	connectCmd.Flags().StringArrayVar(&sendKeys, "send", nil, "Field text to type before pressing Enter (repeatable)")

	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(codepagesCmd)
}

// connectCmd opens a session, waits for the host's first input screen
// and prints it. With --send it also fills fields and presses Enter,
// printing the resulting screen.
var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to a host and print the screen",
	Example: `  # Print the sign-on screen
  go5250 connect --host as400.example.com

  # Sign on unattended
  go5250 connect --host as400.example.com --send QUSER --send SECRET

  # Encrypted transport with a configuration file
  go5250 connect --config session.yaml --tls`,
	RunE: runConnect,
}

func buildConfig() (go5250.Config, error) {
	var cfg go5250.Config
	var err error

	if configPath != "" {
		cfg, err = go5250.LoadConfig(configPath)
		if err != nil {
			return go5250.Config{}, err
		}
	}

	if host != "" {
		cfg.Host = host
	}
	if port != 0 {
		cfg.Port = port
	}
	if useTLS {
		cfg.TLS.Enabled = true
	}
	if codePageID != "" {
		cfg.CodePage = codePageID
	}
	if deviceName != "" {
		cfg.DeviceName = deviceName
	}
	if wideScreen {
		cfg.Rows, cfg.Cols = 27, 132
	}

	return cfg, nil
}

func runConnect(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig()
	if err != nil {
		return err
	}

	session, err := go5250.NewSession(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(unlockWait)*time.Second)
	defer cancel()

	if err := session.Connect(ctx); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer session.Disconnect()

	if !session.WaitForUnlock(time.Duration(unlockWait) * time.Second) {
		return fmt.Errorf("host never offered an input screen (state %s)", session.State())
	}

	fmt.Println(session.ScreenText())

	if len(sendKeys) == 0 {
		return nil
	}

	for index, text := range sendKeys {
		if err := session.SetFieldValue(index, text); err != nil {
			return fmt.Errorf("field %d: %w", index, err)
		}
	}
	if err := session.SendKeys(stream.Enter{}); err != nil {
		return err
	}
	if !session.WaitForUnlock(time.Duration(unlockWait) * time.Second) {
		return fmt.Errorf("host never answered (state %s)", session.State())
	}

	fmt.Println(session.ScreenText())

	if line := session.ErrorLine(); line != "" {
		fmt.Printf("Host error: %s\n", line)
	}

	return nil
}

// codepagesCmd lists the character tables the engine ships with.
var codepagesCmd = &cobra.Command{
	Use:   "codepages",
	Short: "List supported host code pages",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := codepage.NewRegistry()
		if err != nil {
			return err
		}
		for _, id := range registry.IDs() {
			cp, err := registry.Resolve(id)
			if err != nil {
				continue
			}
			fmt.Printf("%-8s %s\n", id, cp.Description())
		}
		return nil
	},
}
