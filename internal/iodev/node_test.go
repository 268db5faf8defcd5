package iodev

import (
	"testing"
	"time"
)

func TestNodeBetterPrefersPlugged(t *testing.T) {
	a := &Node{Type: NodeInternalSpeaker, Plugged: false}
	b := &Node{Type: NodeInternalSpeaker, Plugged: true}
	if NodeBetter(a, b) {
		t.Fatal("unplugged node should not beat a plugged one")
	}
	if !NodeBetter(b, a) {
		t.Fatal("plugged node should beat an unplugged one")
	}
}

func TestNodeBetterPrefersHigherPriorityType(t *testing.T) {
	headphone := &Node{Type: NodeHeadphone, Plugged: true}
	speaker := &Node{Type: NodeInternalSpeaker, Plugged: true}
	if !NodeBetter(headphone, speaker) {
		t.Fatal("headphone should outrank internal speaker")
	}
}

func TestNodeBetterPrefersMoreRecentlyPlugged(t *testing.T) {
	now := time.Now()
	older := &Node{Type: NodeUSB, Plugged: true, PluggedTime: now.Add(-time.Hour)}
	newer := &Node{Type: NodeUSB, Plugged: true, PluggedTime: now}
	if !NodeBetter(newer, older) {
		t.Fatal("more recently plugged node of the same type should win")
	}
}

func TestNodeBetterBreaksFinalTieOnStableID(t *testing.T) {
	now := time.Now()
	a := &Node{Type: NodeUSB, Plugged: true, PluggedTime: now, StableID: 5}
	b := &Node{Type: NodeUSB, Plugged: true, PluggedTime: now, StableID: 9}
	if !NodeBetter(b, a) {
		t.Fatal("higher stable ID should break a full tie")
	}
}
