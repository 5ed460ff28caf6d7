package bot

import "testing"

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in  string
		typ CommandType
		arg string
	}{
		{"!hej 今天天氣如何？", CmdHej, "今天天氣如何？"},
		{"!HEJ shouting", CmdHej, "shouting"},
		{"!hej", CmdHej, ""},
		{"!hej   ", CmdHej, ""},
		{"  !hej padded", CmdHej, "padded"},
		{"!img 架構圖", CmdImg, "架構圖"},
		{"!img", CmdImg, ""},
		{"!reload", CmdReload, ""},
		{"!hejx not a command", CmdUnknown, ""},
		{"!imgx bad", CmdUnknown, ""},
		{"!frobnicate", CmdUnknown, ""},
		{"hej without bang", CmdNone, ""},
		{"plain chatter", CmdNone, ""},
		{"", CmdNone, ""},
	}
	for _, c := range cases {
		got := ParseCommand(c.in)
		if got.Type != c.typ || got.Argument != c.arg {
			t.Fatalf("ParseCommand(%q) = {%s %q}, want {%s %q}", c.in, got.Type, got.Argument, c.typ, c.arg)
		}
	}
}
