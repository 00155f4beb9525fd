// Forge server: Authentication tests
// Copyright Alistair Cunningham 2025

package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

func test_db_setup(t *testing.T) {
	test_setup(t)
	db_create()
}

func test_user(t *testing.T, username string, password string) *User {
	t.Helper()
	hash := must(bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost))
	db := db_open("db/users.db")
	db.exec("insert into users ( username, password, created ) values ( ?, ?, ? )", username, string(hash), now())
	var user User
	if !db.scan(&user, "select * from users where username=?", username) {
		t.Fatal("user not created")
	}
	return &user
}

func test_request(token string) *gin.Context {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		c.Request.Header.Set("Authorization", "Bearer "+token)
	}
	return c
}

func TestAuthTokenRoundTrip(t *testing.T) {
	test_db_setup(t)
	user := test_user(t, "alice", "secret")

	session := session_create(user.ID)
	token := auth_create_token(user.ID, session)
	if token == "" {
		t.Fatal("no token created")
	}

	got := auth_user(test_request(token))
	if got == nil || got.ID != user.ID || got.Username != "alice" {
		t.Fatalf("token did not authenticate: %v", got)
	}
}

func TestAuthRejectsBadTokens(t *testing.T) {
	test_db_setup(t)
	user := test_user(t, "alice", "secret")
	session := session_create(user.ID)
	token := auth_create_token(user.ID, session)

	if auth_user(test_request("")) != nil {
		t.Fatal("missing token accepted")
	}
	if auth_user(test_request("garbage")) != nil {
		t.Fatal("garbage token accepted")
	}
	if auth_user(test_request(token+"x")) != nil {
		t.Fatal("tampered token accepted")
	}
}

func TestAuthExpiredSession(t *testing.T) {
	test_db_setup(t)
	user := test_user(t, "alice", "secret")
	session := session_create(user.ID)
	token := auth_create_token(user.ID, session)

	db := db_open("db/users.db")
	db.exec("update sessions set expires=? where code=?", now()-1, session)

	if auth_user(test_request(token)) != nil {
		t.Fatal("expired session accepted")
	}
}

func TestAuthWrongUserClaim(t *testing.T) {
	test_db_setup(t)
	alice := test_user(t, "alice", "secret")
	bob := test_user(t, "bob", "secret")

	// A token signed with alice's session secret but claiming bob
	session := session_create(alice.ID)
	token := auth_create_token(bob.ID, session)

	if auth_user(test_request(token)) != nil {
		t.Fatal("cross-user token accepted")
	}
}

func TestSessionSweep(t *testing.T) {
	test_db_setup(t)
	user := test_user(t, "alice", "secret")
	keep := session_create(user.ID)
	gone := session_create(user.ID)

	db := db_open("db/users.db")
	db.exec("update sessions set expires=? where code=?", now()-1, gone)

	db_sweep()

	if found, _ := db.exists("select code from sessions where code=?", gone); found {
		t.Fatal("expired session not removed")
	}
	if found, _ := db.exists("select code from sessions where code=?", keep); !found {
		t.Fatal("valid session removed")
	}
}

func TestRateLimiter(t *testing.T) {
	r := &rate_limiter{entries: make(map[string]*rate_limit_entry), limit: 3, window: 60}

	for i := 0; i < 3; i++ {
		if !r.allow("1.2.3.4") {
			t.Fatalf("request %d denied under the limit", i)
		}
	}
	if r.allow("1.2.3.4") {
		t.Fatal("request over the limit allowed")
	}
	if !r.allow("5.6.7.8") {
		t.Fatal("other client denied")
	}

	r.reset("1.2.3.4")
	if !r.allow("1.2.3.4") {
		t.Fatal("reset did not clear the limit")
	}
}
