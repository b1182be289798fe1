package docker

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// CreateAndStart creates a Docker container and starts it. If the image is
// not found locally, it pulls the image and retries the create.
func CreateAndStart(
	ctx context.Context,
	docker client.APIClient,
	log *slog.Logger,
	name, img string,
	containerCfg *container.Config,
	hostCfg *container.HostConfig,
	networkCfg *network.NetworkingConfig,
) error {
	_, err := docker.ContainerCreate(ctx, containerCfg, hostCfg, networkCfg, (*ocispec.Platform)(nil), name)
	if err != nil {
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("create container %q: %w", name, err)
		}
		if err := PullImage(ctx, docker, log, img); err != nil {
			return err
		}
		if _, err = docker.ContainerCreate(ctx, containerCfg, hostCfg, networkCfg, nil, name); err != nil {
			return fmt.Errorf("create container %q after pull: %w", name, err)
		}
	}

	if err := docker.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return fmt.Errorf("start container %q: %w", name, err)
	}
	return nil
}

// PullImage pulls a Docker image and drains the response to completion.
func PullImage(ctx context.Context, docker client.APIClient, log *slog.Logger, img string) error {
	log.Info("pulling image", "image", img)
	resp, err := docker.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", img, err)
	}
	defer resp.Close()
	if _, err := io.Copy(io.Discard, resp); err != nil {
		return fmt.Errorf("pull image %s: read response: %w", img, err)
	}
	return nil
}
