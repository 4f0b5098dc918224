package query

import (
	"reflect"
	"testing"
)

func TestExtractParamsFirstAppearanceOrder(t *testing.T) {
	desc, err := ExtractParams("SELECT * FROM t WHERE b = @beta AND a = @alpha AND b2 = @beta")
	if err != nil {
		t.Fatalf("ExtractParams: %v", err)
	}
	if !reflect.DeepEqual(desc.Parameters, []string{"beta", "alpha"}) {
		t.Errorf("Parameters = %v, want [beta alpha]", desc.Parameters)
	}
	if len(desc.Occurrences["beta"]) != 2 {
		t.Errorf("Occurrences[beta] = %v, want 2 positions", desc.Occurrences["beta"])
	}
}

func TestExtractParamsIgnoresAtInStringLiteral(t *testing.T) {
	desc, err := ExtractParams("SELECT * FROM t WHERE email = 'a@b.com' AND id = @id")
	if err != nil {
		t.Fatalf("ExtractParams: %v", err)
	}
	if !reflect.DeepEqual(desc.Parameters, []string{"id"}) {
		t.Errorf("Parameters = %v, want [id]", desc.Parameters)
	}
}

func TestExtractParamsIgnoresAtInComment(t *testing.T) {
	desc, err := ExtractParams("-- @fake\nSELECT * FROM t WHERE id = @id")
	if err != nil {
		t.Fatalf("ExtractParams: %v", err)
	}
	if !reflect.DeepEqual(desc.Parameters, []string{"id"}) {
		t.Errorf("Parameters = %v, want [id]", desc.Parameters)
	}
}

func TestExtractParamsCaseInsensitiveNameMerge(t *testing.T) {
	desc, err := ExtractParams("SELECT * FROM t WHERE a = @Id OR b = @id")
	if err != nil {
		t.Fatalf("ExtractParams: %v", err)
	}
	if len(desc.Parameters) != 1 || desc.Parameters[0] != "Id" {
		t.Errorf("Parameters = %v, want [Id] (first-seen casing preserved)", desc.Parameters)
	}
	if len(desc.Occurrences["Id"]) != 2 {
		t.Errorf("Occurrences[Id] = %v, want 2 positions", desc.Occurrences["Id"])
	}
}
