package container

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	docker "github.com/fsouza/go-dockerclient"

	"github.com/OldStager01/fleet-autoscaler/internal/logger"
	"github.com/OldStager01/fleet-autoscaler/internal/provider"
	"github.com/OldStager01/fleet-autoscaler/pkg/models"
)

const maxLogReconnectDelay = 30 * time.Second

// logStream is the single follow connection of one server, fanned out to
// every subscriber.
type logStream struct {
	cancel context.CancelFunc
	subs   map[string]*provider.Subscription
}

func (p *Provider) GetServerLogs(ctx context.Context, serverID string, lines int) ([]string, error) {
	containerID, ok := p.containerID(serverID)
	if !ok {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.LogWait)
	defer cancel()

	tail := "all"
	if lines > 0 {
		tail = strconv.Itoa(lines)
	}

	var buf bytes.Buffer
	err := p.breaker.Execute(func() error {
		return p.client.Logs(docker.LogsOptions{
			Context:      ctx,
			Container:    containerID,
			OutputStream: &buf,
			ErrorStream:  &buf,
			Stdout:       true,
			Stderr:       true,
			Tail:         tail,
		})
	})
	if err != nil {
		if isNoSuchContainer(err) {
			return nil, nil
		}
		return nil, err
	}

	return splitLines(buf.String()), nil
}

func splitLines(s string) []string {
	out := make([]string, 0)
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func (p *Provider) StreamServerLogs(ctx context.Context, serverID string, handler provider.LogHandler) (string, bool) {
	containerID, ok := p.containerID(serverID)
	if !ok || p.closed.Load() {
		return "", false
	}

	subID := models.NewUUID()

	p.smu.Lock()
	defer p.smu.Unlock()

	// Shutdown flips closed before taking smu, so this check orders the
	// wg.Add below ahead of its wg.Wait.
	if p.closed.Load() {
		return "", false
	}

	stream, exists := p.streams[serverID]
	if !exists {
		streamCtx, cancel := context.WithCancel(p.ctx)
		stream = &logStream{cancel: cancel, subs: make(map[string]*provider.Subscription)}
		p.streams[serverID] = stream
		p.wg.Add(1)
		go p.follow(streamCtx, stream, serverID, containerID)
	}
	stream.subs[subID] = provider.NewSubscription(handler)
	p.subsIdx[subID] = serverID

	logger.WithField("server_id", serverID).Debugf("Log subscription %s added", subID)
	return subID, true
}

func (p *Provider) StopLogStream(subscriptionID string) bool {
	p.smu.Lock()
	defer p.smu.Unlock()

	serverID, ok := p.subsIdx[subscriptionID]
	if !ok {
		return false
	}
	delete(p.subsIdx, subscriptionID)

	stream, exists := p.streams[serverID]
	if !exists {
		return true
	}
	if sub, ok := stream.subs[subscriptionID]; ok {
		sub.Close()
	}
	delete(stream.subs, subscriptionID)
	if len(stream.subs) == 0 {
		stream.cancel()
		delete(p.streams, serverID)
		logger.WithField("server_id", serverID).Debug("Last log subscriber left, stream closed")
	}
	return true
}

// closeStreams drops every subscriber of a server and closes its connection.
func (p *Provider) closeStreams(serverID string) {
	p.smu.Lock()
	defer p.smu.Unlock()

	if stream, exists := p.streams[serverID]; exists {
		p.dropStreamLocked(serverID, stream)
	}
}

// dropStream removes stream unless it was already replaced or closed.
func (p *Provider) dropStream(serverID string, stream *logStream) {
	p.smu.Lock()
	defer p.smu.Unlock()

	if p.streams[serverID] == stream {
		p.dropStreamLocked(serverID, stream)
	}
}

func (p *Provider) dropStreamLocked(serverID string, stream *logStream) {
	for subID, sub := range stream.subs {
		sub.Close()
		delete(p.subsIdx, subID)
	}
	stream.cancel()
	delete(p.streams, serverID)
}

// streamWanted reports whether stream is still registered with subscribers.
func (p *Provider) streamWanted(serverID string, stream *logStream) bool {
	p.smu.Lock()
	defer p.smu.Unlock()
	return p.streams[serverID] == stream && len(stream.subs) > 0
}

// follow keeps one follow connection open for the lifetime of stream. The
// runtime ends a follow request whenever the container stops, so an ended
// connection is reopened after a backoff while subscribers remain. A
// server that is no longer known drops the stream and its subscribers.
func (p *Provider) follow(ctx context.Context, stream *logStream, serverID, containerID string) {
	defer p.wg.Done()

	log := logger.WithField("server_id", serverID)
	since := time.Now().Unix()
	delay := p.cfg.LogReconnectDelay

	for {
		delivered, err := p.followOnce(ctx, serverID, containerID, since)
		if ctx.Err() != nil {
			return
		}
		since = time.Now().Unix()

		if isNoSuchContainer(err) {
			log.Debug("Container gone, log stream closed")
			p.dropStream(serverID, stream)
			return
		}
		if err != nil {
			log.Warnf("Log stream ended: %v", err)
		}
		if !p.streamWanted(serverID, stream) {
			return
		}

		if delivered > 0 {
			delay = p.cfg.LogReconnectDelay
		}
		if !sleepCtx(ctx, delay) {
			return
		}
		delay = min(delay*2, maxLogReconnectDelay)

		id, ok := p.containerID(serverID)
		if !ok {
			log.Debug("Server no longer tracked, log stream closed")
			p.dropStream(serverID, stream)
			return
		}
		containerID = id
		log.Debugf("Reopening log stream of container %s", shortID(containerID))
	}
}

// followOnce runs a single follow request and returns how many lines it
// delivered.
func (p *Provider) followOnce(ctx context.Context, serverID, containerID string, since int64) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pr, pw := io.Pipe()
	go func() {
		err := p.client.Logs(docker.LogsOptions{
			Context:      ctx,
			Container:    containerID,
			OutputStream: pw,
			ErrorStream:  pw,
			Follow:       true,
			Stdout:       true,
			Stderr:       true,
			Since:        since,
		})
		pw.CloseWithError(err)
	}()
	go func() {
		<-ctx.Done()
		pr.Close()
	}()

	delivered := 0
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		delivered++
		for _, sub := range p.subscribers(serverID) {
			sub.Deliver(serverID, line)
		}
	}
	return delivered, scanner.Err()
}

func (p *Provider) subscribers(serverID string) []*provider.Subscription {
	p.smu.Lock()
	defer p.smu.Unlock()

	stream, exists := p.streams[serverID]
	if !exists {
		return nil
	}
	subs := make([]*provider.Subscription, 0, len(stream.subs))
	for _, sub := range stream.subs {
		subs = append(subs, sub)
	}
	return subs
}
