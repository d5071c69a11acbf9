package token

import "testing"

func TestEstimateMixedText(t *testing.T) {
	if got := Estimate(""); got != 0 {
		t.Fatalf("empty = %d", got)
	}
	// 6 Han chars at /1.5 = 4 tokens.
	if got := Estimate("用户偏好深色主"); got < 4 {
		t.Fatalf("chinese = %d", got)
	}
	// 8 latin chars at /4 = 2 tokens.
	if got := Estimate("deadbeef"); got != 2 {
		t.Fatalf("latin = %d", got)
	}
	if got := Estimate("x"); got != 1 {
		t.Fatalf("minimum = %d", got)
	}
}

func TestEstimateDensity(t *testing.T) {
	// Han text estimates denser than the same number of Latin chars.
	han := Estimate("记忆压缩已经完成")
	latin := Estimate("abcdefgh")
	if han <= latin {
		t.Fatalf("han = %d, latin = %d", han, latin)
	}
}

func TestCountNeverZeroForContent(t *testing.T) {
	if got := Count("hello world"); got <= 0 {
		t.Fatalf("count = %d", got)
	}
}
