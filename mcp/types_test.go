package mcp

import (
	"encoding/json"
	"testing"
)

func TestLoggingLevelRank(t *testing.T) {
	if LoggingLevelRank(LoggingLevelDebug) >= LoggingLevelRank(LoggingLevelInfo) {
		t.Fatal("debug should rank below info")
	}
	if LoggingLevelRank(LoggingLevelError) <= LoggingLevelRank(LoggingLevelWarning) {
		t.Fatal("error should rank above warning")
	}
	if IsValidLoggingLevel("verbose") {
		t.Fatal("verbose is not a protocol level")
	}
}

func TestContentBlockOmitsUnusedFields(t *testing.T) {
	b, err := json.Marshal(ContentBlock{Type: ContentTypeText, Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"type":"text","text":"hi"}` {
		t.Fatalf("got %s", b)
	}
}

func TestSupportedProtocolVersions(t *testing.T) {
	if !IsSupportedProtocolVersion(LatestProtocolVersion) {
		t.Fatal("latest version must be supported")
	}
	if IsSupportedProtocolVersion("1999-01-01") {
		t.Fatal("unexpected support for bogus version")
	}
}
