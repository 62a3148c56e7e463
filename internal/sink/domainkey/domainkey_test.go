package domainkey

import "testing"

func TestFromHostStripsWWWAndLowercases(t *testing.T) {
	if got := FromHost("WWW.Example.COM"); got != "example.com" {
		t.Errorf("got %q", got)
	}
}

func TestFromHostReplacesUnsafeChars(t *testing.T) {
	if got := FromHost("exa mple!.com"); got != "exa_mple_.com" {
		t.Errorf("got %q", got)
	}
}

func TestFromHostEmptyYieldsDefault(t *testing.T) {
	if got := FromHost(""); got != Default {
		t.Errorf("got %q want %q", got, Default)
	}
	if got := FromHost("www."); got != Default {
		t.Errorf("got %q want %q", got, Default)
	}
}

func TestFromURL(t *testing.T) {
	if got := FromURL("https://www.Example.com:8443/a/b"); got != "example.com" {
		t.Errorf("got %q", got)
	}
}

func TestResolvePrecedence(t *testing.T) {
	cases := []struct {
		name string
		h    RequestHints
		want string
	}{
		{"explicit domain_key wins", RequestHints{DomainKey: "Foo.com", URL: "https://bar.com/x"}, "foo.com"},
		{"explicit domain wins over url", RequestHints{Domain: "foo.com", URL: "https://bar.com/x"}, "foo.com"},
		{"crawl_root wins over url", RequestHints{CrawlRoot: "https://root.com/", URL: "https://bar.com/x"}, "root.com"},
		{"url used when no root hints", RequestHints{URL: "https://bar.com/x"}, "bar.com"},
		{"falls back to first discovered url", RequestHints{Pages: []string{"", "https://baz.com/x"}}, "baz.com"},
		{"falls back to default", RequestHints{}, Default},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Resolve(tc.h); got != tc.want {
				t.Errorf("got %q want %q", got, tc.want)
			}
		})
	}
}
