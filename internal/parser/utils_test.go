package parser

import "testing"

func TestNormalizeColumnName_FullWidthAndWhitespace(t *testing.T) {
	t.Parallel()

	if got := NormalizeColumnName(" 交易\n日期 "); got != "交易日期" {
		t.Fatalf("got %q", got)
	}
	if got := NormalizeColumnName("ＩＤ"); got != "ID" {
		t.Fatalf("full width: got %q", got)
	}
}

func TestCanonicalKey_IgnoresCaseAndOuterSpace(t *testing.T) {
	t.Parallel()

	if CanonicalKey("  Amount ") != CanonicalKey("amount") {
		t.Fatalf("expected equal keys")
	}
	if CanonicalKey("交易 日期") == CanonicalKey("交易日期") {
		t.Fatalf("inner whitespace is part of the name")
	}
}
