package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestFormatCrashReport(t *testing.T) {
	report := FormatCrashReport("test panic value", []byte("test stack trace"))

	for _, want := range []string{"gpsh crashed", "Panic:    test panic value", "test stack trace\n", "Runtime:"} {
		if !strings.Contains(report, want) {
			t.Errorf("report missing %q:\n%s", want, report)
		}
	}
}

func TestRecoverAndLog(t *testing.T) {
	var buf bytes.Buffer
	orig := crashOutput
	crashOutput = &buf
	t.Cleanup(func() { crashOutput = orig })

	SetOutput(&bytes.Buffer{})

	func() {
		defer RecoverAndLog("unit test", false)
		panic("boom")
	}()

	if !strings.Contains(buf.String(), "boom") {
		t.Errorf("crash report not written, got %q", buf.String())
	}

	entries := Recent(1)
	if len(entries) != 1 || !strings.Contains(entries[0].Message, "PANIC in unit test") {
		t.Errorf("panic not retained in log buffer: %+v", entries)
	}
}

func TestRecoverAndLog_RePanic(t *testing.T) {
	orig := crashOutput
	crashOutput = &bytes.Buffer{}
	t.Cleanup(func() { crashOutput = orig })
	SetOutput(&bytes.Buffer{})

	defer func() {
		if r := recover(); r != "again" {
			t.Errorf("expected re-panic with %q, got %v", "again", r)
		}
	}()

	func() {
		defer RecoverAndLog("re-panic test", true)
		panic("again")
	}()
}

func TestInitSentry_DisabledByDefault(t *testing.T) {
	if InitSentry("test", false, "https://key@example.invalid/1") {
		t.Error("sentry should stay disabled when not opted in")
	}
}

func TestInitSentry_NoDSN(t *testing.T) {
	SetOutput(&bytes.Buffer{})
	if InitSentry("test", true, "") {
		t.Error("sentry must not start without a DSN")
	}
	entries := Recent(1)
	if len(entries) != 1 || entries[0].Message != "Crash reporting enabled but no DSN configured" {
		t.Errorf("missing DSN warning not logged: %+v", entries)
	}
}
