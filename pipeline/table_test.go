package pipeline

import (
	"testing"
)

func TestReadTableTolerance(t *testing.T) {
	path := writeCSV(t, t.TempDir(), "messy.csv",
		"src,countrycode,asnum\n"+
			"1.1.1.1,RU,13335.0\n"+
			"2.2.2.2,UA\n"+ // short row, padded
			"3.3.3.3,FR,64512,extra,cols\n"+ // overlong row, dropped
			"4.4.4.4,DE,not-a-number\n")
	tbl, err := ReadTable(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(tbl.Rows) != 3 {
		t.Fatalf("expected overlong row dropped, got %d rows", len(tbl.Rows))
	}

	// Pandas-style float export is accepted as an integer ASN.
	asn, ok := tbl.ASN(0)
	if !ok || asn != 13335 {
		t.Fatalf("expected ASN 13335, got %d (ok=%v)", asn, ok)
	}
	if _, ok := tbl.ASN(1); ok {
		t.Fatal("expected padded empty ASN cell to report no ASN")
	}
	if _, ok := tbl.ASN(2); ok {
		t.Fatal("expected unparsable ASN cell to report no ASN")
	}
}

func TestOrgTextConcatenatesKnownColumns(t *testing.T) {
	path := writeCSV(t, t.TempDir(), "org.csv",
		"src,asorg,isp\n1.1.1.1,Example AS,Example ISP\n")
	tbl, err := ReadTable(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := tbl.OrgText(0); got != "Example AS Example ISP" {
		t.Fatalf("unexpected org text %q", got)
	}
}
