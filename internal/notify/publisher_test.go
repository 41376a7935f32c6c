/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2026 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package notify

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-audio-engine/internal/engine"
)

// mockConn records published messages.
type mockConn struct {
	mu         sync.Mutex
	published  []publishedMsg
	publishErr error
	closed     bool
}

type publishedMsg struct {
	subject string
	data    []byte
}

func (m *mockConn) Publish(subject string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, publishedMsg{subject: subject, data: data})
	return nil
}

func (m *mockConn) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *mockConn) messages(subject string) []publishedMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []publishedMsg
	for _, msg := range m.published {
		if msg.subject == subject {
			out = append(out, msg)
		}
	}
	return out
}

func TestPublisher_PositionIsThrottled(t *testing.T) {
	conn := &mockConn{}
	p := NewPublisherWithConnection(conn, "engine-1")

	// A burst of position callbacks must collapse to a single event.
	for i := 0; i < 50; i++ {
		p.OnPosition(7, float64(i)*0.01)
	}

	msgs := conn.messages(SubjectPosition)
	require.Len(t, msgs, 1)

	var event PositionEvent
	require.NoError(t, json.Unmarshal(msgs[0].data, &event))
	assert.Equal(t, "engine-1", event.EngineID)
	assert.Equal(t, int64(7), event.Token)
	assert.Equal(t, 0.0, event.TrackTime)
}

func TestPublisher_DropoutIsNotThrottled(t *testing.T) {
	conn := &mockConn{}
	p := NewPublisherWithConnection(conn, "engine-1")

	p.OnDropout(7, engine.LostInterval{Start: 1.5, Duration: 0.02})
	p.OnDropout(7, engine.LostInterval{Start: 1.6, Duration: 0.01})

	msgs := conn.messages(SubjectDropout)
	require.Len(t, msgs, 2)

	var event DropoutEvent
	require.NoError(t, json.Unmarshal(msgs[0].data, &event))
	assert.Equal(t, 1.5, event.Start)
	assert.Equal(t, 0.02, event.Duration)
	assert.Equal(t, int64(7), event.Token)
}

func TestPublisher_StoppedResetsThrottle(t *testing.T) {
	conn := &mockConn{}
	p := NewPublisherWithConnection(conn, "engine-1")

	p.OnPosition(7, 0.5)
	p.OnPosition(7, 0.6) // throttled
	p.OnStreamStopped(7)
	p.OnPosition(8, 0.0) // new stream, must go out immediately

	assert.Len(t, conn.messages(SubjectPosition), 2)

	stopped := conn.messages(SubjectStopped)
	require.Len(t, stopped, 1)
	var event StoppedEvent
	require.NoError(t, json.Unmarshal(stopped[0].data, &event))
	assert.Equal(t, int64(7), event.Token)
}

func TestPublisher_PublishFailureIsSwallowed(t *testing.T) {
	conn := &mockConn{publishErr: errors.New("nats down")}
	p := NewPublisherWithConnection(conn, "engine-1")

	// Listener callbacks run on the pump goroutine; they must never
	// propagate delivery failures.
	assert.NotPanics(t, func() {
		p.OnPosition(7, 0.5)
		p.OnDropout(7, engine.LostInterval{Start: 1, Duration: 0.1})
		p.OnStreamStopped(7)
	})
}

func TestPublisher_Close(t *testing.T) {
	conn := &mockConn{}
	p := NewPublisherWithConnection(conn, "engine-1")
	p.Close()
	assert.True(t, conn.closed)
}
