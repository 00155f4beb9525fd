// Forge server: Accounts and session authentication
// Copyright Alistair Cunningham 2025

package main

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

type User struct {
	ID       int    `db:"id" json:"id"`
	Username string `db:"username" json:"username"`
	Password string `db:"password" json:"-"`
	Created  int64  `db:"created" json:"created"`
}

type Session struct {
	Code    string `db:"code"`
	User    int    `db:"user"`
	Secret  string `db:"secret"`
	Created int64  `db:"created"`
	Expires int64  `db:"expires"`
}

type forge_claims struct {
	User int `json:"user"`
	jwt.RegisteredClaims
}

const (
	jwt_expiry     = int64(3600)
	session_expiry = int64(30 * 86400)
)

var match_username = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{0,63}$`)

// POST /register - Create a new account
func web_register(c *gin.Context) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Username == "" || body.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if !match_username.MatchString(body.Username) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_username"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to hash password"})
		return
	}

	db := db_open("db/users.db")
	taken, err := db.exists("select id from users where username=?", body.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to create user"})
		return
	}
	if taken {
		c.JSON(http.StatusConflict, gin.H{"error": "username_exists"})
		return
	}

	db.exec("insert into users ( username, password, created ) values ( ?, ?, ? )", body.Username, string(hash), now())
	var user User
	db.scan(&user, "select * from users where username=?", body.Username)
	c.JSON(http.StatusCreated, user)
}

// POST /login - Exchange a username and password for a session token
func web_login(c *gin.Context) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Username == "" || body.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	var user User
	db := db_open("db/users.db")
	if !db.scan(&user, "select * from users where username=?", body.Username) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(body.Password)) != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid username or password"})
		return
	}

	rate_limit_login.reset(rate_limit_client_ip(c))

	session := session_create(user.ID)
	token := auth_create_token(user.ID, session)
	if token == "" {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unable to create token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "session": session})
}

// Create a session entry holding a per-session JWT signing secret
func session_create(user int) string {
	code := uid()
	db := db_open("db/users.db")
	db.exec("insert into sessions ( code, user, secret, created, expires ) values ( ?, ?, ?, ?, ? )",
		code, user, random_alphanumeric(32), now(), now()+session_expiry)
	return code
}

// auth_create_token creates a JWT for a session
func auth_create_token(user_id int, session string) string {
	var s Session
	db := db_open("db/users.db")
	if !db.scan(&s, "select * from sessions where code=? and expires>=?", session, now()) {
		return ""
	}

	claims := forge_claims{
		User: user_id,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Unix(now()+jwt_expiry, 0)),
			IssuedAt:  jwt.NewNumericDate(time.Unix(now(), 0)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	t.Header["kid"] = session
	signed, err := t.SignedString([]byte(s.Secret))
	if err != nil {
		return ""
	}
	return signed
}

// auth_user validates the bearer token on a request, returning the user or nil.
// The signing secret is per-session, looked up via the token's kid header.
func auth_user(c *gin.Context) *User {
	header := c.GetHeader("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		return nil
	}

	var session Session
	claims := &forge_claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, ok := t.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("missing kid")
		}
		db := db_open("db/users.db")
		if !db.scan(&session, "select * from sessions where code=? and expires>=?", kid, now()) {
			return nil, errors.New("unknown session")
		}
		return []byte(session.Secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid || claims.User != session.User {
		return nil
	}

	var user User
	db := db_open("db/users.db")
	if !db.scan(&user, "select * from users where id=?", claims.User) {
		return nil
	}
	return &user
}

// Middleware requiring a valid session; aborts with 401 otherwise
func auth_required() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := auth_user(c)
		if user == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set("user", user)
		c.Next()
	}
}

// web_user returns the authenticated user on a request, or nil. Unlike
// auth_required, anonymous requests are allowed through.
func web_user(c *gin.Context) *User {
	if u, found := c.Get("user"); found {
		return u.(*User)
	}
	return auth_user(c)
}
