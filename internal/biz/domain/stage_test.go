package domain

import "testing"

func TestStageFor_FirstMessageSentinel(t *testing.T) {
	if got := StageFor(-1); got != StageFirstMessage {
		t.Errorf("Expected '%s', got '%s'", StageFirstMessage, got)
	}
}

func TestStageFor_Returning(t *testing.T) {
	if got := StageFor(48.5); got != StageReturning {
		t.Errorf("Expected '%s', got '%s'", StageReturning, got)
	}
}

func TestStageFor_ContinuationBoundary(t *testing.T) {
	for _, h := range []float64{0, 0.01, 12, 48} {
		if got := StageFor(h); got != StageContinuation {
			t.Errorf("hours=%v: expected '%s', got '%s'", h, StageContinuation, got)
		}
	}
}

func TestRegisterFor_Boundaries(t *testing.T) {
	cases := []struct {
		tone int
		want ToneRegister
	}{
		{0, ToneCasual},
		{25, ToneCasual},
		{26, ToneBalanced},
		{50, ToneBalanced},
		{74, ToneBalanced},
		{75, ToneFormal},
		{100, ToneFormal},
	}
	for _, c := range cases {
		if got := RegisterFor(c.tone); got != c.want {
			t.Errorf("tone=%d: expected '%s', got '%s'", c.tone, c.want, got)
		}
	}
}

func TestBotProfile_CanAutoReply(t *testing.T) {
	bot := &BotProfile{IsActive: true}
	if !bot.CanAutoReply() {
		t.Error("Expected active bot to auto reply")
	}
	bot.IsListening = true
	if bot.CanAutoReply() {
		t.Error("Expected listening bot never to auto reply")
	}
	bot.IsListening = false
	bot.IsActive = false
	if bot.CanAutoReply() {
		t.Error("Expected inactive bot not to auto reply")
	}
}

func TestLicense_GenerateAndValidate(t *testing.T) {
	key, err := GenerateLicenseKey()
	if err != nil {
		t.Fatalf("GenerateLicenseKey failed: %v", err)
	}
	if len(key) != len("RWB-XXXX-XXXX") {
		t.Errorf("Unexpected key length: %s", key)
	}
	if !ValidLicenseKey(key) {
		t.Errorf("Generated key did not validate: %s", key)
	}
	if ValidLicenseKey("RWB-0000-IIII") {
		t.Error("Expected key with ambiguous characters to be rejected")
	}
}
