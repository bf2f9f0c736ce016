package models

import "testing"

func TestSessionKey(t *testing.T) {
	got := SessionKey(ChannelTelegram, "conv1", "user1")
	want := "telegram_conv1_user1"
	if got != want {
		t.Fatalf("SessionKey() = %q, want %q", got, want)
	}
}

func TestSessionKeyDeterministic(t *testing.T) {
	a := SessionKey(ChannelSlack, "c", "u")
	b := SessionKey(ChannelSlack, "c", "u")
	if a != b {
		t.Fatalf("SessionKey not deterministic: %q != %q", a, b)
	}
}
