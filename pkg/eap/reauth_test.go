package eap

import "testing"

type permID string

func (p permID) GetIdentity() (string, bool) { return string(p), p != "" }

func TestReauthStoreOneShot(t *testing.T) {
	store := NewReauthStore(permID("1001010123456789@example.org"))

	// 没有缓存时回退到永久身份。
	id, ok := store.GetIdentity()
	if !ok || id != "1001010123456789@example.org" {
		t.Fatalf("回退身份 = %q/%v", id, ok)
	}

	store.Save("4reauth@example.org")
	if !store.HasReauthID() {
		t.Fatal("Save 后应持有重认证身份")
	}

	// 重认证身份一次性消费。
	id, ok = store.GetIdentity()
	if !ok || id != "4reauth@example.org" {
		t.Fatalf("重认证身份 = %q/%v", id, ok)
	}
	if store.HasReauthID() {
		t.Fatal("消费后不应再持有重认证身份")
	}
	if store.Counter() != 1 {
		t.Fatalf("计数器 = %d, 期望 1", store.Counter())
	}

	// 再次请求回退到永久身份。
	id, _ = store.GetIdentity()
	if id != "1001010123456789@example.org" {
		t.Fatalf("第二次身份 = %q", id)
	}
}

func TestReauthStoreNoFallback(t *testing.T) {
	store := NewReauthStore(nil)
	if _, ok := store.GetIdentity(); ok {
		t.Fatal("无回退且无缓存时应返回 ok=false")
	}
}
