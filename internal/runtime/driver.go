// Package runtime drives pipeline steps as containers against a
// Docker-compatible engine, replacing the teacher's host exec.Command
// step runner with the real container lifecycle spec §4.7 describes.
package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	units "github.com/docker/go-units"
	"github.com/docker/go-connections/nat"

	"blockci-q/internal/model"
)

// Driver owns one engine connection and tracks everything it creates so
// a run's cleanup can sweep it even after a failure mid-pipeline.
type Driver struct {
	cli *client.Client

	containers map[string]bool
	networks   map[string]bool
}

// New connects to the Docker-compatible engine at host (a unix socket
// or tcp address). An empty host defers to the client's usual
// DOCKER_HOST/default-socket resolution.
func New(host string) (*Driver, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		if strings.HasPrefix(host, "/") {
			host = "unix://" + host
		}
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, model.Wrap(model.KindDocker, err)
	}
	return &Driver{cli: cli, containers: map[string]bool{}, networks: map[string]bool{}}, nil
}

// Ping verifies the engine is reachable.
func (d *Driver) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	if err != nil {
		return model.Wrap(model.KindDocker, err)
	}
	return nil
}

// EnsureNetwork creates name if absent and returns its ID. Idempotent:
// a second call for the same name returns the existing network.
func (d *Driver) EnsureNetwork(ctx context.Context, name string) (string, error) {
	existing, err := d.cli.NetworkList(ctx, network.ListOptions{})
	if err != nil {
		return "", model.Wrap(model.KindNetwork, err)
	}
	for _, n := range existing {
		if n.Name == name {
			d.networks[n.ID] = true
			return n.ID, nil
		}
	}
	resp, err := d.cli.NetworkCreate(ctx, name, network.CreateOptions{Driver: "bridge"})
	if err != nil {
		return "", model.Wrap(model.KindNetwork, err)
	}
	d.networks[resp.ID] = true
	return resp.ID, nil
}

// RemoveNetwork removes id, downgrading "has active endpoints" to a
// non-fatal condition since a crashed run can leave containers attached.
func (d *Driver) RemoveNetwork(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	err := d.cli.NetworkRemove(ctx, id)
	delete(d.networks, id)
	if err != nil && !strings.Contains(err.Error(), "has active endpoints") {
		return model.Wrap(model.KindNetwork, err)
	}
	return nil
}

// PullImage pulls ref if it isn't already present locally.
func (d *Driver) PullImage(ctx context.Context, ref string) error {
	images, err := d.cli.ImageList(ctx, image.ListOptions{})
	if err == nil {
		for _, img := range images {
			for _, tag := range img.RepoTags {
				if tag == ref {
					return nil
				}
			}
		}
	}
	rc, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return model.Wrap(model.KindDocker, err)
	}
	defer rc.Close()
	_, _ = io.Copy(io.Discard, rc)
	return nil
}

// ServiceHandle identifies a running sidecar.
type ServiceHandle struct {
	ID    string
	Alias string
}

// StartService launches svc on networkID under alias, translating its
// declared ports with go-connections/nat.
func (d *Driver) StartService(ctx context.Context, networkID, alias string, svc *model.ServiceDefinition, env map[string]string) (*ServiceHandle, error) {
	imageRef := "atlassian/default-image:4"
	if svc.Image != nil && svc.Image.Name != "" {
		imageRef = svc.Image.Name
	}
	if err := d.PullImage(ctx, imageRef); err != nil {
		return nil, err
	}

	exposedPorts, portBindings, err := nat.ParsePortSpecs(svc.Ports)
	if err != nil {
		return nil, model.Wrapf(model.KindNetwork, "service %q port spec: %v", alias, err)
	}

	envList := make([]string, 0, len(svc.Variables)+len(env))
	for k, v := range svc.Variables {
		envList = append(envList, k+"="+v)
	}
	for k, v := range env {
		envList = append(envList, k+"="+v)
	}

	var hostConfig container.HostConfig
	hostConfig.PortBindings = portBindings
	if svc.Memory > 0 {
		hostConfig.Resources.Memory = svc.Memory * 1024 * 1024
	}

	name := containerName("svc-" + alias)
	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:        imageRef,
		Env:          envList,
		ExposedPorts: exposedPorts,
	}, &hostConfig, &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			networkID: {Aliases: []string{alias}},
		},
	}, nil, name)
	if err != nil {
		return nil, model.Wrap(model.KindContainer, err)
	}
	d.containers[resp.ID] = true

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, model.Wrap(model.KindContainer, err)
	}
	return &ServiceHandle{ID: resp.ID, Alias: alias}, nil
}

// StepRunRequest is everything RunStep needs to execute one step.
type StepRunRequest struct {
	Image       string
	WorkspaceDir string
	Mounts      []mount.Mount
	Env         map[string]string
	MemoryLimit string // go-units size string, e.g. "4g"
	CPULimit    string // CPU count as a decimal string, e.g. "2"; converted to NanoCPUs
	NetworkID   string
	Script      []string
	AfterScript []string
	Timeout     time.Duration
}

// RunStep creates a keep-alive container, execs Script and (always)
// AfterScript inside it, and returns Script's exit code. Per spec §4.7
// ("$SCRIPT; ec=$?; $AFTER; exit $ec"), AfterScript always runs but
// never changes the step's outcome.
func (d *Driver) RunStep(ctx context.Context, req StepRunRequest) (output string, exitCode int, err error) {
	runCtx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	if err := d.PullImage(runCtx, req.Image); err != nil {
		return "", -1, err
	}

	envList := make([]string, 0, len(req.Env))
	for k, v := range req.Env {
		envList = append(envList, k+"="+v)
	}

	hostConfig := &container.HostConfig{
		Mounts: append([]mount.Mount{{
			Type:   mount.TypeBind,
			Source: req.WorkspaceDir,
			Target: "/opt/atlassian/pipelines/agent/build",
		}}, req.Mounts...),
	}
	if req.MemoryLimit != "" {
		if bytes, err := units.RAMInBytes(req.MemoryLimit); err == nil {
			hostConfig.Resources.Memory = bytes
		}
	}
	if req.CPULimit != "" {
		if cpus, err := strconv.ParseFloat(req.CPULimit, 64); err == nil {
			hostConfig.Resources.NanoCPUs = int64(cpus * 1e9)
		}
	}

	netConfig := &network.NetworkingConfig{}
	if req.NetworkID != "" {
		netConfig.EndpointsConfig = map[string]*network.EndpointSettings{
			req.NetworkID: {},
		}
	}

	name := containerName("step")
	created, err := d.cli.ContainerCreate(runCtx, &container.Config{
		Image:      req.Image,
		Env:        envList,
		WorkingDir: "/opt/atlassian/pipelines/agent/build",
		Entrypoint: []string{"tail", "-f", "/dev/null"},
	}, hostConfig, netConfig, nil, name)
	if err != nil {
		return "", -1, model.Wrap(model.KindContainer, err)
	}
	d.containers[created.ID] = true
	defer d.stopAndRemove(context.Background(), created.ID)

	if err := d.cli.ContainerStart(runCtx, created.ID, container.StartOptions{}); err != nil {
		return "", -1, model.Wrap(model.KindContainer, err)
	}

	var buf bytes.Buffer
	mainExit, err := d.execScript(runCtx, created.ID, req.Script, &buf)
	if err != nil {
		return buf.String(), -1, err
	}

	// afterScript always runs, but per spec §4.7 ("$SCRIPT; ec=$?; $AFTER;
	// exit $ec") its outcome never changes the step's exit code.
	if len(req.AfterScript) > 0 {
		d.execScript(runCtx, created.ID, req.AfterScript, &buf)
	}

	return buf.String(), mainExit, nil
}

// execScript runs lines as a single bash -c invocation inside container
// id, streaming demuxed stdout/stderr into out, and returns its exit code.
func (d *Driver) execScript(ctx context.Context, id string, lines []string, out io.Writer) (int, error) {
	if len(lines) == 0 {
		return 0, nil
	}
	// set -e mirrors hosted Pipelines: a failing line anywhere in a
	// multi-line script fails the step, not just a failing last line.
	script := "set -e\n" + strings.Join(lines, "\n")
	created, err := d.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          []string{"/bin/bash", "-c", script},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return -1, model.Wrap(model.KindContainer, err)
	}

	attach, err := d.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return -1, model.Wrap(model.KindContainer, err)
	}
	defer attach.Close()

	if _, err := stdcopy.StdCopy(out, out, attach.Reader); err != nil && err != io.EOF {
		return -1, model.Wrap(model.KindContainer, err)
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return -1, model.Wrap(model.KindContainer, err)
	}
	return inspect.ExitCode, nil
}

func (d *Driver) stopAndRemove(ctx context.Context, id string) {
	timeout := 10
	if err := d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil &&
		!strings.Contains(err.Error(), "is not running") {
		// best-effort: still attempt removal below
	}
	_ = d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	delete(d.containers, id)
}

// StopService stops and removes a sidecar started with StartService.
func (d *Driver) StopService(ctx context.Context, h *ServiceHandle) {
	if h == nil {
		return
	}
	d.stopAndRemove(ctx, h.ID)
}

// Cleanup force-removes every container and network this driver tracks
// (including a pre-existing network returned by EnsureNetwork), for use
// after a cancelled or crashed run.
func (d *Driver) Cleanup(ctx context.Context) {
	for id := range d.containers {
		d.stopAndRemove(ctx, id)
	}
	for id := range d.networks {
		_ = d.RemoveNetwork(ctx, id)
	}
}

func containerName(prefix string) string {
	return fmt.Sprintf("bbpl-%s-%d-%d", prefix, time.Now().UnixMilli(), rand.Intn(1_000_000_000))
}
