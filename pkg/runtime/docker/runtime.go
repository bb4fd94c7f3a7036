// Package docker launches a Jupyter server container on the local
// Docker daemon and synthesizes connection settings for it. It is the
// development-time alternative to provisioning through a remote build
// service.
package docker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/juniper-run/juniper/pkg/kernel"
	"github.com/juniper-run/juniper/pkg/log"
)

const notebookPort = "8888/tcp"

// Runtime drives the local Docker daemon.
type Runtime struct {
	cli *client.Client
}

// NewRuntime connects to the daemon using the ambient environment.
func NewRuntime() (*Runtime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &Runtime{cli: cli}, nil
}

// LaunchConfig describes the container to launch.
type LaunchConfig struct {
	// Image is the notebook server image. Defaults to
	// "jupyter/base-notebook".
	Image string
	// Port is the host port to publish the server on; 0 picks a free
	// one.
	Port int
	// Token is the server auth token; generated when empty.
	Token string
	// ReadyTimeout bounds the wait for the server to answer.
	// Defaults to 90 seconds.
	ReadyTimeout time.Duration
}

func (c LaunchConfig) withDefaults() LaunchConfig {
	if c.Image == "" {
		c.Image = "jupyter/base-notebook"
	}
	if c.Token == "" {
		c.Token = randomToken()
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = 90 * time.Second
	}
	return c
}

// Gateway is a launched notebook container with its connection
// settings.
type Gateway struct {
	ContainerID string
	Settings    kernel.ConnectionSettings

	runtime *Runtime
}

// Launch pulls the image if needed, starts the container with the
// notebook port published on localhost, and waits until the server
// answers.
func (r *Runtime) Launch(ctx context.Context, cfg LaunchConfig) (*Gateway, error) {
	cfg = cfg.withDefaults()

	port := cfg.Port
	if port == 0 {
		free, err := freePort()
		if err != nil {
			return nil, fmt.Errorf("pick host port: %w", err)
		}
		port = free
	}

	log.Info("pulling notebook image", "image", cfg.Image)
	reader, err := r.cli.ImagePull(ctx, cfg.Image, image.PullOptions{})
	if err != nil {
		// A locally built image may still exist.
		log.Warn("image pull failed, trying local image", "image", cfg.Image, "error", err)
	} else {
		_, _ = io.Copy(io.Discard, reader)
		reader.Close()
	}

	created, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image: cfg.Image,
			Cmd: []string{
				"start-notebook.sh",
				"--NotebookApp.token=" + cfg.Token,
				"--NotebookApp.allow_origin=*",
				"--ip=0.0.0.0",
			},
			ExposedPorts: nat.PortSet{notebookPort: struct{}{}},
			Labels:       map[string]string{"run.juniper.role": "kernel-gateway"},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{
				notebookPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: strconv.Itoa(port)}},
			},
		},
		nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create notebook container: %w", err)
	}

	if err := r.cli.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = r.cli.ContainerRemove(ctx, created.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("start notebook container: %w", err)
	}
	log.Info("notebook container started", "id", created.ID[:12], "port", port)

	settings := settingsForPort(port, cfg.Token)
	if err := waitReady(ctx, settings, cfg.ReadyTimeout); err != nil {
		_ = r.cli.ContainerRemove(context.WithoutCancel(ctx), created.ID, container.RemoveOptions{Force: true})
		return nil, fmt.Errorf("notebook server never became ready: %w", err)
	}

	return &Gateway{ContainerID: created.ID, Settings: settings, runtime: r}, nil
}

// Stop removes the container.
func (g *Gateway) Stop(ctx context.Context) error {
	if err := g.runtime.cli.ContainerRemove(ctx, g.ContainerID, container.RemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("remove notebook container: %w", err)
	}
	return nil
}

func settingsForPort(port int, token string) kernel.ConnectionSettings {
	host := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	return kernel.ConnectionSettings{
		BaseURL:      "http://" + host,
		WebSocketURL: "ws://" + host,
		Token:        token,
	}
}

func waitReady(ctx context.Context, settings kernel.ConnectionSettings, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	httpClient := &http.Client{Timeout: 5 * time.Second}

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, settings.BaseURL+"/api", nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "token "+settings.Token)

		resp, err := httpClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		if time.Now().After(deadline) {
			if err != nil {
				return err
			}
			return fmt.Errorf("server answered %s", resp.Status)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

func randomToken() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return strconv.FormatInt(time.Now().UnixNano(), 16)
	}
	return hex.EncodeToString(buf)
}
