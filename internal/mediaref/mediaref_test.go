package mediaref

import (
	"errors"
	"testing"
)

func TestFilenames(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"[sound:foo.mp3]", []string{"foo.mp3"}},
		{`<img src="a b.png">`, []string{"a b.png"}},
		{`<IMG class="x" src='c.jpg' />`, []string{"c.jpg"}},
		{`<img src=d.gif>`, []string{"d.gif"}},
		{`<audio src="e.ogg"></audio>`, []string{"e.ogg"}},
		{`<object data="f.svg"></object>`, []string{"f.svg"}},
		{`<img src="http://example.com/g.png">`, nil},
		{"no media here", nil},
	}
	for _, tc := range cases {
		got := Filenames(tc.in)
		if len(got) != len(tc.want) {
			t.Errorf("Filenames(%q) = %q, want %q", tc.in, got, tc.want)
			continue
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Errorf("Filenames(%q)[%d] = %q, want %q", tc.in, i, got[i], tc.want[i])
			}
		}
	}
}

func TestRewrite(t *testing.T) {
	in := `front [sound:foo.mp3]` + "\x1f" + `<img src="foo.jpg"> [sound:keep.mp3]`
	got, err := Rewrite(in, func(fname string) (string, error) {
		switch fname {
		case "foo.mp3":
			return "foo_42.mp3", nil
		case "foo.jpg":
			return "foo_42.jpg", nil
		}
		return fname, nil
	})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	want := `front [sound:foo_42.mp3]` + "\x1f" + `<img src="foo_42.jpg"> [sound:keep.mp3]`
	if got != want {
		t.Errorf("Rewrite = %q, want %q", got, want)
	}
}

func TestRewrite_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Rewrite("[sound:a.mp3]", func(string) (string, error) { return "", boom })
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestStripHTMLMedia(t *testing.T) {
	got := StripHTMLMedia(`<b>Hello</b>&nbsp;<img src="cat.png"> &amp; more`)
	if got != "Hello  cat.png  & more" {
		t.Errorf("StripHTMLMedia = %q", got)
	}
}

func TestSplitFilename(t *testing.T) {
	base, ext := SplitFilename("archive.tar.gz")
	if base != "archive.tar" || ext != ".gz" {
		t.Errorf("got %q %q", base, ext)
	}
	base, ext = SplitFilename("noext")
	if base != "noext" || ext != "" {
		t.Errorf("got %q %q", base, ext)
	}
}
