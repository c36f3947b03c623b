package media

import "testing"

func TestParseFormatAndAspect(t *testing.T) {
	if f, err := ParseFormat(" MP3 "); err != nil || f != FormatMP3 {
		t.Fatalf("ParseFormat = %q, %v", f, err)
	}
	if _, err := ParseFormat("flac"); err == nil {
		t.Fatal("expected error for flac")
	}
	if a, err := ParseAspect("Widescreen"); err != nil || a != AspectWidescreen {
		t.Fatalf("ParseAspect = %q, %v", a, err)
	}
	if _, err := ParseAspect("portrait"); err == nil {
		t.Fatal("expected error for portrait")
	}
}

func TestTrim(t *testing.T) {
	var none *Trim
	if !none.IsZero() || none.Validate() != nil || none.Length(90) != 90 {
		t.Fatal("nil trim should be a no-op")
	}
	trim := &Trim{Start: 10, End: 40}
	if err := trim.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := trim.Length(120); got != 30 {
		t.Fatalf("Length = %v, want 30", got)
	}
	if got := (&Trim{Start: 100}).Length(120); got != 20 {
		t.Fatalf("open-ended Length = %v, want 20", got)
	}
	if got := (&Trim{Start: 10, End: 400}).Length(120); got != 110 {
		t.Fatalf("clamped Length = %v, want 110", got)
	}
	if err := (&Trim{Start: 40, End: 10}).Validate(); err == nil {
		t.Fatal("expected error for inverted range")
	}
	if err := (&Trim{Start: -1}).Validate(); err == nil {
		t.Fatal("expected error for negative start")
	}
}
