package cloudsync

import (
	"encoding/base64"
	"strings"
	"testing"
)

type syncDocument struct {
	Snapshots []string `json:"snapshots"`
	Queue     int      `json:"queue"`
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	original := syncDocument{Snapshots: []string{"2024-01-01", "2024-02-01"}, Queue: 3}

	payload, encryptErr := EncryptPayload(original, "correct horse battery")
	if encryptErr != nil {
		t.Fatalf("encrypt payload: %v", encryptErr)
	}

	var restored syncDocument
	if decryptErr := DecryptPayload(payload, "correct horse battery", &restored); decryptErr != nil {
		t.Fatalf("decrypt payload: %v", decryptErr)
	}
	if restored.Queue != original.Queue || len(restored.Snapshots) != len(original.Snapshots) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", restored, original)
	}
	for snapshotIndex := range original.Snapshots {
		if restored.Snapshots[snapshotIndex] != original.Snapshots[snapshotIndex] {
			t.Fatalf("snapshot %d mismatch: got %q, want %q", snapshotIndex, restored.Snapshots[snapshotIndex], original.Snapshots[snapshotIndex])
		}
	}
}

func TestDecryptRejectsWrongPassphrase(t *testing.T) {
	payload, encryptErr := EncryptPayload(syncDocument{Queue: 1}, "first passphrase")
	if encryptErr != nil {
		t.Fatalf("encrypt payload: %v", encryptErr)
	}

	var restored syncDocument
	if decryptErr := DecryptPayload(payload, "second passphrase", &restored); decryptErr == nil {
		t.Fatal("expected decryption with wrong passphrase to fail")
	}
}

func TestEncryptUsesFreshSaltAndNonce(t *testing.T) {
	firstPayload, firstErr := EncryptPayload(syncDocument{Queue: 1}, "shared passphrase")
	if firstErr != nil {
		t.Fatalf("encrypt first payload: %v", firstErr)
	}
	secondPayload, secondErr := EncryptPayload(syncDocument{Queue: 1}, "shared passphrase")
	if secondErr != nil {
		t.Fatalf("encrypt second payload: %v", secondErr)
	}

	if firstPayload.Salt == secondPayload.Salt {
		t.Fatal("expected distinct salts for separate encryptions")
	}
	if firstPayload.IV == secondPayload.IV {
		t.Fatal("expected distinct nonces for separate encryptions")
	}

	decodedSalt, saltErr := base64.StdEncoding.DecodeString(firstPayload.Salt)
	if saltErr != nil {
		t.Fatalf("decode salt: %v", saltErr)
	}
	if len(decodedSalt) != saltLength {
		t.Fatalf("salt length: got %d, want %d", len(decodedSalt), saltLength)
	}
	decodedNonce, nonceErr := base64.StdEncoding.DecodeString(firstPayload.IV)
	if nonceErr != nil {
		t.Fatalf("decode nonce: %v", nonceErr)
	}
	if len(decodedNonce) != nonceLength {
		t.Fatalf("nonce length: got %d, want %d", len(decodedNonce), nonceLength)
	}
}

func TestDeriveKeyHashIsStable(t *testing.T) {
	firstHash := DeriveKeyHash("audit passphrase")
	secondHash := DeriveKeyHash("audit passphrase")
	if firstHash != secondHash {
		t.Fatalf("hash not stable: %q vs %q", firstHash, secondHash)
	}
	if len(firstHash) != 64 {
		t.Fatalf("hash length: got %d, want 64", len(firstHash))
	}
	if firstHash != strings.ToLower(firstHash) {
		t.Fatalf("hash not lowercase hex: %q", firstHash)
	}
	if firstHash == DeriveKeyHash("other passphrase") {
		t.Fatal("distinct passphrases produced identical hashes")
	}
}
