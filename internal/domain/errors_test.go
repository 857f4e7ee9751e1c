package domain

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestAtStageKeepsKind(t *testing.T) {
	base := ValidationError("bad delay time %q", "9:30")
	err := AtStage(base, "u1", StageValidate)

	if !IsKind(err, KindValidation) {
		t.Fatalf("expected validation kind, got %q", KindOf(err))
	}
	var de *Error
	if !errors.As(err, &de) {
		t.Fatalf("expected *Error")
	}
	if de.UserID != "u1" || de.Stage != StageValidate {
		t.Fatalf("unexpected tags: %+v", de)
	}
	if !strings.Contains(err.Error(), "u1") {
		t.Fatalf("error should name the user: %s", err)
	}
}

func TestAtStageWrapsUntypedAsProvider(t *testing.T) {
	err := AtStage(context.DeadlineExceeded, "u2", StageCreate)
	if !IsKind(err, KindProvider) {
		t.Fatalf("expected provider kind, got %q", KindOf(err))
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wrapped deadline error")
	}
	if AtStage(nil, "u", StageCreate) != nil {
		t.Fatalf("nil in, nil out")
	}
}

func TestFromName(t *testing.T) {
	cases := []struct {
		u    UserRecord
		want string
	}{
		{UserRecord{FirstName: "Ada", LastName: "Lovelace"}, "Ada Lovelace"},
		{UserRecord{FirstName: "Ada"}, "Ada"},
		{UserRecord{LastName: "Lovelace"}, "Lovelace"},
	}
	for _, c := range cases {
		if got := c.u.FromName(); got != c.want {
			t.Fatalf("FromName() = %q, want %q", got, c.want)
		}
	}
}
