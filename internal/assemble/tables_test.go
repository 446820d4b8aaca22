package assemble

import "testing"

const tariffTable = "| Tariff | ET10 | ET15 |\n|---|---|---|\n| Rate in % | 90 | 85 |"

func TestTables(t *testing.T) {
	md := "# Rates\n\nIntro\n\n" + tariffTable + "\n\nAfter\n\n" +
		"## Kids\n\nText\nTarif | Betrag\n--|--\nGUP0 | 0 EUR\nGUP500 | 250 EUR\n\n" +
		"> | q | r |\n> |---|---|\n> | 1 | 2 |"

	got := Tables(md)
	if len(got) != 2 {
		t.Fatalf("found %d tables, want 2: %+v", len(got), got)
	}
	if got[0].Source != tariffTable || got[0].Heading != "Rates" || got[0].Index != 0 {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Source != "Tarif | Betrag\n--|--\nGUP0 | 0 EUR\nGUP500 | 250 EUR" || got[1].Heading != "Kids" {
		t.Errorf("second = %+v", got[1])
	}
}

func TestTables_AtEndOfInput(t *testing.T) {
	got := Tables(tariffTable)
	if len(got) != 1 || got[0].Source != tariffTable || got[0].Heading != "" {
		t.Errorf("Tables() = %+v", got)
	}
}

func TestTables_None(t *testing.T) {
	if got := Tables("a | b\n\nno delimiter row"); len(got) != 0 {
		t.Errorf("Tables() = %+v", got)
	}
	if got := Tables("```\n| a |\n|---|\n```"); len(got) != 0 {
		t.Errorf("table in code block found: %+v", got)
	}
}

func TestReplaceTables(t *testing.T) {
	md := "# Rates\n\n" + tariffTable + "\n\nmiddle\n\n" + tariffTable + "\n\nend"
	tables := Tables(md)

	got := ReplaceTables(md, tables, []string{"- For ET10 the rate is 90%.\n", ""})
	want := "# Rates\n\n- For ET10 the rate is 90%.\n\nmiddle\n\n" + tariffTable + "\n\nend"
	if got != want {
		t.Errorf("ReplaceTables() =\n%q\nwant\n%q", got, want)
	}

	if got := ReplaceTables(md, tables, nil); got != md {
		t.Errorf("no texts changed the document: %q", got)
	}
}
