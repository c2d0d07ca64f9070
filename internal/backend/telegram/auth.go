package telegram

import (
	"context"
	"errors"
	"fmt"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"

	"github.com/caamer20/Telegram-Drive/internal/backend"
)

func (c *conn) SendCode(ctx context.Context, phone string, appID int, appHash string) (backend.LoginToken, error) {
	api, err := c.api(ctx)
	if err != nil {
		return backend.LoginToken{}, err
	}
	sent, err := api.AuthSendCode(ctx, &tg.AuthSendCodeRequest{
		PhoneNumber: phone,
		APIID:       appID,
		APIHash:     appHash,
		Settings:    tg.CodeSettings{},
	})
	if err != nil {
		return backend.LoginToken{}, convert(err)
	}
	code, ok := sent.(*tg.AuthSentCode)
	if !ok {
		return backend.LoginToken{}, fmt.Errorf("unexpected sent code type %T", sent)
	}
	return backend.LoginToken{Phone: phone, CodeHash: code.PhoneCodeHash}, nil
}

func (c *conn) SignIn(ctx context.Context, token backend.LoginToken, code string) (backend.PasswordToken, error) {
	api, err := c.api(ctx)
	if err != nil {
		return backend.PasswordToken{}, err
	}
	_, err = c.client.Auth().SignIn(ctx, token.Phone, code, token.CodeHash)
	if errors.Is(err, auth.ErrPasswordAuthNeeded) {
		var pt backend.PasswordToken
		if pw, perr := api.AccountGetPassword(ctx); perr == nil {
			pt.Hint, _ = pw.GetHint()
		}
		return pt, backend.ErrPasswordRequired
	}
	if err != nil {
		return backend.PasswordToken{}, convert(err)
	}
	return backend.PasswordToken{}, nil
}

func (c *conn) CheckPassword(ctx context.Context, _ backend.PasswordToken, password string) error {
	if _, err := c.api(ctx); err != nil {
		return err
	}
	if _, err := c.client.Auth().Password(ctx, password); err != nil {
		return convert(err)
	}
	return nil
}

func (c *conn) LogOut(ctx context.Context) error {
	api, err := c.api(ctx)
	if err != nil {
		return err
	}
	if _, err := api.AuthLogOut(ctx); err != nil {
		return convert(err)
	}
	return nil
}
