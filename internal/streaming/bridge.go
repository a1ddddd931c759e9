// Package streaming implements the Log Streaming Bridge (§4.5): given a task
// id and a WebSocket subscriber, it locates the task's running container by
// its deterministic name and forwards the container's live log stream.
package streaming

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/dispatch"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/store"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Bridge forwards a task's live container log stream to a WebSocket
// subscriber. It opens its own Docker client rather than sharing the
// Worker's, since the front end and the worker fleet are separate processes.
type Bridge struct {
	store  store.Store
	docker *client.Client
}

// New builds a Bridge talking to the local Docker daemon.
func New(s store.Store) (*Bridge, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Bridge{store: s, docker: cli}, nil
}

// ServeLogs implements §4.5's contract over a WebSocket connection. ownerID
// is the authenticated subscriber's principal id; a task id belonging to a
// different owner is treated as not-found rather than forwarded, matching
// the authorization note in §4.5.
func (b *Bridge) ServeLogs(w http.ResponseWriter, r *http.Request, taskID uint64, ownerID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Log.WithError(err).Warn("failed to upgrade log stream to websocket")
		return
	}
	defer conn.Close()

	ctx := r.Context()
	logger := logging.Log.WithField("task_id", taskID)

	task, err := b.store.GetTaskByID(ctx, taskID)
	if err != nil || task.OwnerID != ownerID {
		conn.WriteMessage(websocket.TextMessage, []byte("Task not found"))
		return
	}

	containerName := dispatch.ContainerName(task.OwnerID, task.TaskID)
	containerID, err := b.findRunningContainer(ctx, containerName)
	if err != nil || containerID == "" {
		conn.WriteMessage(websocket.TextMessage, []byte("Container not running"))
		return
	}

	// A disconnect on either side must stop the other: a closed reader aborts
	// the demux goroutine below, and cancelling streamCtx aborts the
	// in-flight ContainerLogs read once the subscriber goes away.
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	logs, err := b.docker.ContainerLogs(streamCtx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		logger.WithError(err).Warn("failed to open container log stream")
		conn.WriteMessage(websocket.TextMessage, []byte("Container not running"))
		return
	}
	defer logs.Close()

	go b.watchDisconnect(conn, cancel)

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	go func() {
		defer stdoutW.Close()
		defer stderrW.Close()
		if _, err := stdcopy.StdCopy(stdoutW, stderrW, logs); err != nil && err != io.EOF {
			logger.WithError(err).Debug("log demux ended")
		}
	}()

	done := make(chan struct{}, 2)
	forward := func(rd io.ReadCloser) {
		defer rd.Close()
		buf := make([]byte, 4096)
		for {
			n, err := rd.Read(buf)
			if n > 0 {
				frame := trimUTF8(buf[:n])
				if writeErr := conn.WriteMessage(websocket.TextMessage, []byte(frame)); writeErr != nil {
					cancel()
					break
				}
			}
			if err != nil {
				break
			}
			select {
			case <-streamCtx.Done():
				return
			default:
			}
		}
		done <- struct{}{}
	}
	go forward(stdoutR)
	go forward(stderrR)

	<-done
	<-done
	logger.Debug("log stream closed")
}

// findRunningContainer looks up a running container by its deterministic
// name, returning "" if none is running.
func (b *Bridge) findRunningContainer(ctx context.Context, name string) (string, error) {
	f := filters.NewArgs()
	f.Add("name", "^/"+name+"$")
	containers, err := b.docker.ContainerList(ctx, container.ListOptions{Filters: f})
	if err != nil {
		return "", err
	}
	for _, c := range containers {
		if c.State == "running" {
			return c.ID, nil
		}
	}
	return "", nil
}

func (b *Bridge) watchDisconnect(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func trimUTF8(b []byte) string {
	s := string(b)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
