package checksum

import "testing"

func TestSum(t *testing.T) {
	// sha1("abc")
	want := "a9993e364706816aba3e25717850c26c9cd0d89d"
	if got := SumString("abc"); got != want {
		t.Errorf("SumString = %s, want %s", got, want)
	}
}

func TestField(t *testing.T) {
	// 0xa9993e36
	if got := Field("abc"); got != 2845392438 {
		t.Errorf("Field = %d", got)
	}
}

func TestField_Deterministic(t *testing.T) {
	if Field("Hello") != Field("Hello") {
		t.Error("field checksum is not deterministic")
	}
	if Field("Hello") == Field("hello") {
		t.Error("field checksum should be case sensitive")
	}
}
