package service

import (
	"context"

	"github.com/acksell/facet/dynamodb/ddberr"
	"github.com/acksell/facet/dynamodb/ddbsdk"
	"go.uber.org/zap"
)

// TransactWrite commits the write operations of any registered entities
// atomically, e.g. a Create of one entity together with a Patch and a Check
// of others. At most ddbsdk.MaxTransactItems actions fit in a transaction.
func (s *Service) TransactWrite(ctx context.Context, actions []ddbsdk.Action, opts ...ddbsdk.TxOption) error {
	client, err := s.dynamo()
	if err != nil {
		return err
	}
	tx := ddbsdk.NewTxer(client, opts...)
	for _, a := range actions {
		if err := tx.AddAction(a); err != nil {
			return ddberr.Wrap(ddberr.CodeInvalidOptions, err, "transaction action %T", a)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return ddberr.Wrap(ddberr.CodeClient, err, "transact write failed")
	}
	s.logger.Debug("transaction committed", zap.Int("actions", tx.Len()))
	return nil
}
