package handlers

import (
	"log/slog"

	"github.com/fosslife/rykard/internal/models"
	"github.com/fosslife/rykard/internal/ws"
)

func RegisterAuthHandlers(app *App) {
	app.WS.Handle("login", app.handleLogin)
	app.WS.Handle("logout", app.handleLogout)
	app.WS.Handle("setup", app.handleSetup)
	app.WS.Handle("needSetup", app.handleNeedSetup)
	app.WS.Handle("me", app.handleMe)
	app.WS.Handle("change_password", app.handleChangePassword)

	app.WS.HandleConnect(func(c *ws.Conn) {
		// Send server info on every new connection
		ws.SendEvent(c, "info", map[string]interface{}{
			"version": app.Version,
		})

		if app.NoAuth {
			// Open mode: every connection acts as the admin account.
			c.SetUser(1)
			app.afterLogin(c)
			return
		}

		// If no account exists, tell the shell to show the setup page
		if app.needSetup() {
			ws.SendEvent[any](c, "setup", nil)
		}
	})
}

// needSetup reports whether no account exists yet. Read from the store on
// every call so a concurrent setup cannot race a cached flag.
func (app *App) needSetup() bool {
	if app.NoAuth {
		return false
	}
	count, err := app.Users.Count()
	if err != nil {
		slog.Error("user count", "err", err)
		return false
	}
	return count == 0
}

func (app *App) handleLogin(c *ws.Conn, msg *ws.ClientMessage) {
	args := parseArgs(msg)
	if len(args) == 0 {
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Invalid arguments"})
		}
		return
	}

	// Login args are either an object {username, password} / {token} or
	// positional [username, password].
	var loginData struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Token    string `json:"token"`
	}
	if !argObject(args, 0, &loginData) || loginData.Username == "" {
		loginData.Username = argString(args, 0)
		loginData.Password = argString(args, 1)
	}

	if loginData.Token != "" {
		app.loginByToken(c, msg, loginData.Token)
		return
	}

	if loginData.Username == "" || loginData.Password == "" {
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Incorrect username or password"})
		}
		return
	}

	user, err := app.Users.FindByUsername(loginData.Username)
	if err != nil {
		slog.Error("login lookup", "err", err)
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Internal error"})
		}
		return
	}

	if user == nil || !models.VerifyPassword(loginData.Password, user.Password) {
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Incorrect username or password"})
		}
		return
	}

	token, err := models.CreateJWT(user, app.JWTSecret, app.JWTTTL)
	if err != nil {
		slog.Error("create jwt", "err", err)
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Internal error"})
		}
		return
	}

	c.SetUser(user.ID)
	app.afterLogin(c)

	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, ws.OkResponse{OK: true, Token: token})
	}

	slog.Info("user logged in", "username", user.Username)
}

// loginByToken re-authenticates a returning session from a stored JWT.
func (app *App) loginByToken(c *ws.Conn, msg *ws.ClientMessage, token string) {
	claims, err := models.VerifyJWT(token, app.JWTSecret)
	if err != nil {
		slog.Debug("token verify failed", "err", err)
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Invalid token"})
		}
		return
	}

	user, err := app.Users.FindByUsername(claims.Username)
	if err != nil {
		slog.Error("token user lookup", "err", err)
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Internal error"})
		}
		return
	}
	if user == nil {
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "User inactive or deleted"})
		}
		return
	}

	// Password change detection: the token carries a short hash of the
	// password hash it was minted against.
	if claims.H != models.Shake256Hex(user.Password, 16) {
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Invalid token"})
		}
		return
	}

	c.SetUser(user.ID)
	app.afterLogin(c)

	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, ws.OkResponse{OK: true})
	}

	slog.Debug("token login", "username", claims.Username)
}

func (app *App) handleLogout(c *ws.Conn, msg *ws.ClientMessage) {
	c.SetUser(0)
	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, ws.OkResponse{OK: true})
	}
}

func (app *App) handleSetup(c *ws.Conn, msg *ws.ClientMessage) {
	args := parseArgs(msg)
	username := argString(args, 0)
	password := argString(args, 1)

	if username == "" || password == "" {
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Username and password required"})
		}
		return
	}

	if len(password) < 6 {
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Password is too weak. It should be at least 6 characters."})
		}
		return
	}

	count, err := app.Users.Count()
	if err != nil {
		slog.Error("setup count", "err", err)
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Internal error"})
		}
		return
	}
	if count > 0 {
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Rykard has already been set up"})
		}
		return
	}

	if _, err := app.Users.Create(username, password); err != nil {
		slog.Error("setup create user", "err", err)
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Failed to create user"})
		}
		return
	}

	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, ws.OkResponse{OK: true, Msg: "Account created"})
	}

	slog.Info("setup complete", "username", username)
}

func (app *App) handleNeedSetup(c *ws.Conn, msg *ws.ClientMessage) {
	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, struct {
			OK        bool `json:"ok"`
			NeedSetup bool `json:"needSetup"`
		}{OK: true, NeedSetup: app.needSetup()})
	}
}

func (app *App) handleMe(c *ws.Conn, msg *ws.ClientMessage) {
	uid := checkLogin(c, msg)
	if uid == 0 || msg.ID == nil {
		return
	}

	user, err := app.Users.FindByID(uid)
	if err != nil {
		slog.Error("me lookup", "err", err, "uid", uid)
		ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Internal error"})
		return
	}

	// In open mode the auto-assigned ID has no backing row.
	username := "admin"
	if user != nil {
		username = user.Username
	}

	ws.SendAck(c, *msg.ID, struct {
		OK       bool   `json:"ok"`
		ID       int    `json:"id"`
		Username string `json:"username"`
	}{OK: true, ID: uid, Username: username})
}

func (app *App) handleChangePassword(c *ws.Conn, msg *ws.ClientMessage) {
	uid := checkLogin(c, msg)
	if uid == 0 {
		return
	}

	args := parseArgs(msg)
	var data struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !argObject(args, 0, &data) {
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Invalid arguments"})
		}
		return
	}

	user, err := app.Users.FindByID(uid)
	if err != nil || user == nil {
		slog.Error("change password lookup", "err", err, "uid", uid)
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Internal error"})
		}
		return
	}
	if !models.VerifyPassword(data.CurrentPassword, user.Password) {
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Incorrect current password"})
		}
		return
	}
	if len(data.NewPassword) < 6 {
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Password is too weak. It should be at least 6 characters."})
		}
		return
	}

	if err := app.Users.ChangePassword(uid, data.NewPassword); err != nil {
		slog.Error("change password", "err", err)
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Failed to change password"})
		}
		return
	}

	// Changing the password rotates the token hash claim, so every
	// outstanding JWT is dead. Mint a fresh one for this session.
	user, err = app.Users.FindByID(uid)
	if err != nil || user == nil {
		slog.Error("change password reload", "err", err, "uid", uid)
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Internal error"})
		}
		return
	}
	token, err := models.CreateJWT(user, app.JWTSecret, app.JWTTTL)
	if err != nil {
		slog.Error("create jwt", "err", err)
		if msg.ID != nil {
			ws.SendAck(c, *msg.ID, ws.ErrorResponse{OK: false, Msg: "Internal error"})
		}
		return
	}

	if msg.ID != nil {
		ws.SendAck(c, *msg.ID, ws.OkResponse{OK: true, Msg: "Password changed", Token: token})
	}

	slog.Info("password changed", "username", user.Username)
}

// afterLogin pushes initial state to a freshly authenticated connection.
func (app *App) afterLogin(c *ws.Conn) {
	// Current engine status, so the shell can render the connection
	// indicator without a round trip. Probed off the handler goroutine.
	go app.sendEngineStatus(c)
}
