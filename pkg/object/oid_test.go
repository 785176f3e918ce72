package object

import (
	"strings"
	"testing"
)

func TestValidateIDExactLength(t *testing.T) {
	valid := strings.Repeat("a", 40)
	if _, err := ValidateID(valid); err != nil {
		t.Fatalf("valid id rejected: %v", err)
	}
	if _, err := ValidateID(strings.Repeat("a", 39)); err == nil {
		t.Fatal("39-char id accepted")
	}
	if _, err := ValidateID(strings.Repeat("a", 41)); err == nil {
		t.Fatal("41-char id accepted")
	}
}

func TestValidateIDRejectsUppercase(t *testing.T) {
	if _, err := ValidateID(strings.Repeat("A", 40)); err == nil {
		t.Fatal("uppercase id accepted")
	}
}

func TestValidateIDRejectsNonHex(t *testing.T) {
	bad := "g" + strings.Repeat("a", 39)
	if _, err := ValidateID(bad); err == nil {
		t.Fatal("non-hex id accepted")
	}
}

func TestValidateTagNameAllowedBytes(t *testing.T) {
	if _, err := ValidateTagName("v1.2.3-rc_1"); err != nil {
		t.Fatalf("valid tag name rejected: %v", err)
	}
}

func TestValidateTagNameRejectsSlash(t *testing.T) {
	if _, err := ValidateTagName("refs/tags/v1"); err == nil {
		t.Fatal("slash accepted in tag name")
	}
}

func TestValidateTagNameRejectsSpace(t *testing.T) {
	if _, err := ValidateTagName("v1 rc"); err == nil {
		t.Fatal("space accepted in tag name")
	}
}

func TestValidateTagNameRejectsEmpty(t *testing.T) {
	if _, err := ValidateTagName(""); err == nil {
		t.Fatal("empty tag name accepted")
	}
}
