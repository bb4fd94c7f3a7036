package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/juniper-run/juniper/pkg/runtime/docker"
)

var (
	launchImage   string
	launchPort    int
	launchToken   string
	launchTimeout time.Duration
)

var kernelsCmd = &cobra.Command{
	Use:   "kernels",
	Short: "Manage local kernel containers",
}

var kernelsLaunchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Launch a Jupyter server container on the local Docker daemon",
	Long: `Launch a Jupyter server container on the local Docker daemon and
print connection settings for it.

The printed settings can be fed back as staticConnectionSettings in a
config file, or to "juniper run --base-url ... --token ...". The
container keeps running after this command exits; remove it with
"docker rm -f <id>".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := docker.NewRuntime()
		if err != nil {
			return fmt.Errorf("connect to Docker daemon: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), launchTimeout+time.Minute)
		defer cancel()

		gateway, err := rt.Launch(ctx, docker.LaunchConfig{
			Image:        launchImage,
			Port:         launchPort,
			Token:        launchToken,
			ReadyTimeout: launchTimeout,
		})
		if err != nil {
			return err
		}

		fmt.Printf("container: %s\n", gateway.ContainerID[:12])
		out, err := yaml.Marshal(map[string]interface{}{
			"staticConnectionSettings": gateway.Settings,
		})
		if err != nil {
			return err
		}
		_, _ = os.Stdout.Write(out)
		return nil
	},
}

func init() {
	kernelsLaunchCmd.Flags().StringVar(&launchImage, "image", "", "Notebook server image (default jupyter/base-notebook)")
	kernelsLaunchCmd.Flags().IntVar(&launchPort, "port", 0, "Host port to publish (default: pick a free one)")
	kernelsLaunchCmd.Flags().StringVar(&launchToken, "token", "", "Server auth token (default: generated)")
	kernelsLaunchCmd.Flags().DurationVar(&launchTimeout, "ready-timeout", 90*time.Second, "How long to wait for the server")

	kernelsCmd.AddCommand(kernelsLaunchCmd)
	rootCmd.AddCommand(kernelsCmd)
}
