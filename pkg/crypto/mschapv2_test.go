package crypto

import (
	"encoding/hex"
	"strings"
	"testing"
)

// TestMSCHAPv2Vectors 验证 RFC 2759 §9.2 给出的测试向量
func TestMSCHAPv2Vectors(t *testing.T) {
	username := "User"
	password := "clientPass"
	authChallenge, _ := hex.DecodeString("5B5D7C7D7B3F2F3E3C2C602132262628")
	peerChallenge, _ := hex.DecodeString("21402324255E262A28295F2B3A337C7E")

	ntHash, err := NtPasswordHash(password)
	if err != nil {
		t.Fatalf("NtPasswordHash 失败: %v", err)
	}
	if got := strings.ToUpper(hex.EncodeToString(ntHash)); got != "44EBBA8D5312B8D611474411F56989AE" {
		t.Errorf("NtPasswordHash 错误: got %s", got)
	}

	hashHash := HashNtPasswordHash(ntHash)
	if got := strings.ToUpper(hex.EncodeToString(hashHash)); got != "41C00C584BD2D91C4017A2A12FA59F3F" {
		t.Errorf("HashNtPasswordHash 错误: got %s", got)
	}

	challenge, err := ChallengeHash(peerChallenge, authChallenge, username)
	if err != nil {
		t.Fatalf("ChallengeHash 失败: %v", err)
	}
	if got := strings.ToUpper(hex.EncodeToString(challenge)); got != "D02E4386BCE91226" {
		t.Errorf("ChallengeHash 错误: got %s", got)
	}

	ntResponse, err := GenerateNtResponse(authChallenge, peerChallenge, username, password)
	if err != nil {
		t.Fatalf("GenerateNtResponse 失败: %v", err)
	}
	if got := strings.ToUpper(hex.EncodeToString(ntResponse)); got != "82309ECD8D708B5EA08FAA3981CD83544233114A3D85D6DF" {
		t.Errorf("NtResponse 错误: got %s", got)
	}

	authResponse, err := GenerateAuthenticatorResponse(password, string(ntResponse), peerChallenge, authChallenge, username)
	if err != nil {
		t.Fatalf("GenerateAuthenticatorResponse 失败: %v", err)
	}
	want := "S=407A5589115FD0D6209F510FE9C04566932CDA56"
	if authResponse != want {
		t.Errorf("AuthenticatorResponse 错误: got %s, want %s", authResponse, want)
	}

	if !CheckAuthenticatorResponse(want, authResponse) {
		t.Error("CheckAuthenticatorResponse 应当通过")
	}
	if CheckAuthenticatorResponse(want, want+"x") {
		t.Error("CheckAuthenticatorResponse 不应通过篡改后的值")
	}
}

// TestMD4KnownVectors 验证 MD4 实现符合 RFC 1320 的已知向量
func TestMD4KnownVectors(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", "31D6CFE0D16AE931B73C59D7E0C089C0"},
		{"a", "BDE52CB31DE33E46245E05FBDBD6FB24"},
		{"abc", "A448017AAF21D8525FC10AE87AA6729D"},
		{"message digest", "D9130A8164549FE818874806E1C7014B"},
	}
	for _, c := range cases {
		got := strings.ToUpper(hex.EncodeToString(md4Sum([]byte(c.in))))
		if got != c.want {
			t.Errorf("md4Sum(%q) = %s, want %s", c.in, got, c.want)
		}
	}
}
