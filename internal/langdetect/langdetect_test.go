package langdetect

import "testing"

func TestDetect(t *testing.T) {
	cases := []struct {
		name, text, want string
	}{
		{"english sentence", "The meeting is about to start and you're all welcome.", "en"},
		{"french sentence", "Le train est en retard mais nous sommes presque arrivés.", "fr"},
		{"french contractions", "C'est l'heure, j'arrive tout de suite.", "fr"},
		{"spanish sentence", "El proyecto es muy importante para los equipos.", "es"},
		{"german sentence", "Das ist nicht das Problem, aber wir haben eine Lösung.", "de"},
		{"empty", "", ""},
		{"numbers only", "12345 67", ""},
		{"single ambiguous word", "ok", ""},
		{"accents lose to strong markers", "The café près de la gare is closed today and that is fine.", "en"},
		{"proper name does not flip english", "You're going to meet François and the team tomorrow, that is the plan.", "en"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Detect(c.text); got != c.want {
				t.Errorf("Detect(%q) = %q, want %q", c.text, got, c.want)
			}
		})
	}
}

func TestBase(t *testing.T) {
	cases := []struct{ in, want string }{
		{"fr-CA", "fr"},
		{"fr-FR", "fr"},
		{"en-US", "en"},
		{"de", "de"},
		{"pt_BR", "pt"},
		{"", ""},
		{"zz-notreal", "zz"},
	}
	for _, c := range cases {
		if got := Base(c.in); got != c.want {
			t.Errorf("Base(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSameBase(t *testing.T) {
	if !SameBase("fr-FR", "fr-CA") {
		t.Error("fr-FR and fr-CA should share a base")
	}
	if SameBase("fr-FR", "en-US") {
		t.Error("fr and en must not match")
	}
	if SameBase("", "") {
		t.Error("empty tags must never match")
	}
}
