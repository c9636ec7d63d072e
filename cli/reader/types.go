// Package reader provides the read-side data access layer for the sluice
// CLI.
//
// Read-only commands go through a Reader, which reads captured messages
// from a journal dataset and never touches a live session.
package reader

import (
	"github.com/pithecene-io/sluice/codec"
	"github.com/pithecene-io/sluice/dictionary"
)

// RecordRow is one captured message as the dump command renders it.
type RecordRow struct {
	Time      string `json:"ts" yaml:"ts"`
	SessionID string `json:"session_id" yaml:"session_id"`
	Channel   string `json:"channel" yaml:"channel"`
	Direction string `json:"dir" yaml:"dir"`
	Class     string `json:"class" yaml:"class"`
	Domain    string `json:"domain" yaml:"domain"`
	StreamID  int32  `json:"stream" yaml:"stream"`
	Item      string `json:"item" yaml:"item"`
	Size      int    `json:"size" yaml:"size"`
	// State is set for Refresh and Status messages.
	State string `json:"state,omitempty" yaml:"state,omitempty"`
	// Fields is set when the payload is a field list and decoding was
	// requested.
	Fields dictionary.Values `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// SessionSummary aggregates the records of one session.
type SessionSummary struct {
	SessionID string `json:"session_id" yaml:"session_id"`
	Channels  int    `json:"channels" yaml:"channels"`
	Messages  int    `json:"messages" yaml:"messages"`
	In        int    `json:"in" yaml:"in"`
	Out       int    `json:"out" yaml:"out"`
	Bytes     int    `json:"bytes" yaml:"bytes"`
	First     string `json:"first" yaml:"first"`
	Last      string `json:"last" yaml:"last"`
}

// JournalStats summarizes the records matching a filter.
type JournalStats struct {
	Records  int            `json:"records" yaml:"records"`
	In       int            `json:"in" yaml:"in"`
	Out      int            `json:"out" yaml:"out"`
	Bytes    int            `json:"bytes" yaml:"bytes"`
	Sessions int            `json:"sessions" yaml:"sessions"`
	Items    int            `json:"items" yaml:"items"`
	ByClass  map[string]int `json:"by_class" yaml:"by_class"`
	ByDomain map[string]int `json:"by_domain" yaml:"by_domain"`
}

// ItemImage is the last known image of an item, as the snapshot and
// watch commands report it.
type ItemImage struct {
	Item    string             `json:"item" yaml:"item"`
	Service string             `json:"service" yaml:"service"`
	Channel string             `json:"channel" yaml:"channel"`
	State   string             `json:"state" yaml:"state"`
	Text    string             `json:"text,omitempty" yaml:"text,omitempty"`
	Updates int                `json:"updates" yaml:"updates"`
	Fields  dictionary.Values `json:"fields,omitempty" yaml:"fields,omitempty"`

	// rmtes holds the materialized RMTES fields by field id.
	rmtes map[int16]*codec.RmtesCache
}
