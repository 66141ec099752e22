// Package keychain stores the ERP credentials each account logs in with.
package keychain

import (
	"context"
	"database/sql"
	"tinysync-backend/lib/scrapers/tiny/session"
	"tinysync-backend/services/keychain/db"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/keychain")

type Service struct {
	db  *sql.DB
	qry *db.Queries
}

func NewService(database *sql.DB) Service {
	return Service{
		db:  database,
		qry: db.New(database),
	}
}

// GetCredentials returns the stored login for an account. sql.ErrNoRows
// passes through when none exist.
func (s Service) GetCredentials(ctx context.Context, accountID int64) (session.Credentials, error) {
	ctx, span := tracer.Start(ctx, "GetCredentials")
	defer span.End()
	span.SetAttributes(attribute.Int64("account", accountID))

	row, err := s.qry.GetErpCredential(ctx, accountID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return session.Credentials{}, err
	}
	return session.Credentials{Login: row.Login, Password: row.Password}, nil
}

func (s Service) SetCredentials(ctx context.Context, accountID int64, creds session.Credentials) error {
	ctx, span := tracer.Start(ctx, "SetCredentials")
	defer span.End()
	span.SetAttributes(attribute.Int64("account", accountID))

	err := s.qry.SetErpCredential(ctx, db.SetErpCredentialParams{
		AccountID: accountID,
		Login:     creds.Login,
		Password:  creds.Password,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s Service) ListAccounts(ctx context.Context) ([]int64, error) {
	ctx, span := tracer.Start(ctx, "ListAccounts")
	defer span.End()

	rows, err := s.qry.ListErpCredentials(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	ids := make([]int64, len(rows))
	for i, row := range rows {
		ids[i] = row.AccountID
	}
	return ids, nil
}

func (s Service) DeleteCredentials(ctx context.Context, accountID int64) error {
	ctx, span := tracer.Start(ctx, "DeleteCredentials")
	defer span.End()
	span.SetAttributes(attribute.Int64("account", accountID))

	return s.qry.DeleteErpCredential(ctx, accountID)
}
