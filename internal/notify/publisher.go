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

// Package notify publishes engine stream events over NATS so the rest of
// the system can follow transport position, dropouts, and stream
// lifecycle without polling the engine.
package notify

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-audio-engine/internal/engine"
)

// Subjects, one per event kind. Consumers subscribe to
// "loqa.audioengine.>" for everything.
const (
	SubjectPosition = "loqa.audioengine.position"
	SubjectDropout  = "loqa.audioengine.dropout"
	SubjectStopped  = "loqa.audioengine.stopped"
)

// positionMinInterval throttles position events. The engine reports every
// pump poll, far denser than any consumer needs.
const positionMinInterval = 100 * time.Millisecond

// PositionEvent is the JSON payload for transport position updates.
type PositionEvent struct {
	EngineID  string  `json:"engine_id"`
	Token     int64   `json:"token"`
	TrackTime float64 `json:"track_time"` // seconds
}

// DropoutEvent is the JSON payload for a lost capture interval.
type DropoutEvent struct {
	EngineID string  `json:"engine_id"`
	Token    int64   `json:"token"`
	Start    float64 `json:"start"`    // track time, seconds
	Duration float64 `json:"duration"` // seconds
}

// StoppedEvent is the JSON payload sent once per stream when it ends.
type StoppedEvent struct {
	EngineID string `json:"engine_id"`
	Token    int64  `json:"token"`
}

// EngineNATSConnection is the slice of the NATS client the publisher
// needs, for dependency injection.
type EngineNATSConnection interface {
	Publish(subject string, data []byte) error
	Close()
}

// EngineNATSConnectionAdapter adapts *nats.Conn to EngineNATSConnection.
type EngineNATSConnectionAdapter struct {
	conn *nats.Conn
}

func NewEngineNATSConnectionAdapter(conn *nats.Conn) *EngineNATSConnectionAdapter {
	return &EngineNATSConnectionAdapter{conn: conn}
}

func (a *EngineNATSConnectionAdapter) Publish(subject string, data []byte) error {
	return a.conn.Publish(subject, data)
}

func (a *EngineNATSConnectionAdapter) Close() {
	a.conn.Close()
}

// Publisher forwards engine listener callbacks to NATS. It satisfies the
// engine's Listener contract: callbacks never block on delivery, a failed
// publish is logged and dropped.
type Publisher struct {
	natsConn EngineNATSConnection
	engineID string

	mu           sync.Mutex
	lastPosition time.Time
}

// NewPublisher connects to NATS with retry and returns a ready publisher.
func NewPublisher(natsURL, engineID string) (*Publisher, error) {
	var nc *nats.Conn
	var err error

	for i := 0; i < 5; i++ {
		nc, err = nats.Connect(natsURL)
		if err == nil {
			break
		}
		log.Printf("⚠️  Failed to connect to NATS (attempt %d/5): %v", i+1, err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after 5 attempts: %w", err)
	}

	log.Printf("✅ Connected to NATS at %s", natsURL)
	return NewPublisherWithConnection(NewEngineNATSConnectionAdapter(nc), engineID), nil
}

// NewPublisherWithConnection creates a publisher over an existing
// connection (for testing).
func NewPublisherWithConnection(natsConn EngineNATSConnection, engineID string) *Publisher {
	return &Publisher{natsConn: natsConn, engineID: engineID}
}

// OnPosition publishes the transport position, throttled to one event per
// positionMinInterval.
func (p *Publisher) OnPosition(token engine.Token, trackTime float64) {
	p.mu.Lock()
	now := time.Now()
	if now.Sub(p.lastPosition) < positionMinInterval {
		p.mu.Unlock()
		return
	}
	p.lastPosition = now
	p.mu.Unlock()

	p.publish(SubjectPosition, PositionEvent{
		EngineID:  p.engineID,
		Token:     int64(token),
		TrackTime: trackTime,
	})
}

// OnDropout publishes every lost interval, unthrottled. Dropouts are rare
// and each one matters.
func (p *Publisher) OnDropout(token engine.Token, interval engine.LostInterval) {
	p.publish(SubjectDropout, DropoutEvent{
		EngineID: p.engineID,
		Token:    int64(token),
		Start:    interval.Start,
		Duration: interval.Duration,
	})
}

// OnStreamStopped publishes the end-of-stream event and resets the
// position throttle for the next stream.
func (p *Publisher) OnStreamStopped(token engine.Token) {
	p.mu.Lock()
	p.lastPosition = time.Time{}
	p.mu.Unlock()

	p.publish(SubjectStopped, StoppedEvent{
		EngineID: p.engineID,
		Token:    int64(token),
	})
}

// Close closes the underlying NATS connection.
func (p *Publisher) Close() {
	p.natsConn.Close()
}

func (p *Publisher) publish(subject string, event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("❌ Failed to marshal %s event: %v", subject, err)
		return
	}
	if err := p.natsConn.Publish(subject, data); err != nil {
		log.Printf("⚠️  Failed to publish %s event: %v", subject, err)
	}
}
