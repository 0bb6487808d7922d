package main

import (
	"TXC"
	"TXC/pkg"
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type scenario struct {
	name      string
	short     string
	expectErr bool
	run       func(ctx context.Context, e *env) error
}

var scenarios = []scenario{
	{
		name:  "inner-commit",
		short: "Inner REQUIRED participates in the outer transaction; one physical commit",
		run: func(ctx context.Context, e *env) error {
			outer, err := e.tm.Begin(ctx, pkg.NewTXDefinition(pkg.WithName("outer")))
			if err != nil {
				return err
			}
			e.log.Info("outer started", zap.Bool("is_new", outer.IsNew()))

			inner, err := e.tm.Begin(ctx, pkg.NewTXDefinition(pkg.WithName("inner")))
			if err != nil {
				return err
			}
			e.log.Info("inner started", zap.Bool("is_new", inner.IsNew()))
			if err := e.saveMember(ctx, uniqueName("inner-commit")); err != nil {
				return err
			}

			e.log.Info("inner commit")
			if err := e.tm.Commit(ctx, inner); err != nil {
				return err
			}
			e.log.Info("outer commit")
			return e.tm.Commit(ctx, outer)
		},
	},
	{
		name:  "outer-rollback",
		short: "Outer rollback discards the work of a committed inner participant",
		run: func(ctx context.Context, e *env) error {
			username := uniqueName("outer-rollback")
			outer, err := e.tm.Begin(ctx, pkg.NewTXDefinition(pkg.WithName("outer")))
			if err != nil {
				return err
			}
			inner, err := e.tm.Begin(ctx, pkg.NewTXDefinition(pkg.WithName("inner")))
			if err != nil {
				return err
			}
			if err := e.saveMember(ctx, username); err != nil {
				return err
			}
			if err := e.tm.Commit(ctx, inner); err != nil {
				return err
			}
			if err := e.tm.Rollback(ctx, outer); err != nil {
				return err
			}
			e.log.Info("member saved", zap.Bool("exists", e.memberExists(ctx, username)))
			return nil
		},
	},
	{
		name:      "inner-rollback",
		short:     "Inner rollback marks rollback-only; the outer commit fails with an unexpected rollback",
		expectErr: true,
		run: func(ctx context.Context, e *env) error {
			outer, err := e.tm.Begin(ctx, pkg.NewTXDefinition(pkg.WithName("outer")))
			if err != nil {
				return err
			}
			inner, err := e.tm.Begin(ctx, pkg.NewTXDefinition(pkg.WithName("inner")))
			if err != nil {
				return err
			}
			if err := e.tm.Rollback(ctx, inner); err != nil {
				return err
			}
			err = e.tm.Commit(ctx, outer)
			if !errors.Is(err, pkg.ErrUnexpectedRollback) {
				return errors.Errorf("expected unexpected rollback, got %v", err)
			}
			return err
		},
	},
	{
		name:  "requires-new",
		short: "Inner REQUIRES_NEW rolls back on its own connection; the outer commit succeeds",
		run: func(ctx context.Context, e *env) error {
			outerName, innerName := uniqueName("requires-new-outer"), uniqueName("requires-new-inner")
			return e.tm.Transaction(ctx, pkg.NewTXDefinition(pkg.WithName("outer")), func(ctx context.Context, outer *TXC.Transaction) error {
				inner, err := e.tm.Begin(ctx, pkg.NewTXDefinition(
					pkg.WithName("inner"), pkg.WithPropagation(pkg.PropagationRequiresNew)))
				if err != nil {
					return err
				}
				e.log.Info("inner started", zap.Bool("is_new", inner.IsNew()))
				if err := e.saveMember(ctx, innerName); err != nil {
					return err
				}
				if err := e.tm.Rollback(ctx, inner); err != nil {
					return err
				}
				return e.saveMember(ctx, outerName)
			})
		},
	},
	{
		name:  "nested",
		short: "Inner NESTED rolls back to a savepoint; the outer work still commits",
		run: func(ctx context.Context, e *env) error {
			return e.tm.Transaction(ctx, pkg.NewTXDefinition(pkg.WithName("outer")), func(ctx context.Context, outer *TXC.Transaction) error {
				if err := e.saveMember(ctx, uniqueName("nested-outer")); err != nil {
					return err
				}
				nested, err := e.tm.Begin(ctx, pkg.NewTXDefinition(
					pkg.WithName("nested"), pkg.WithPropagation(pkg.PropagationNested)))
				if err != nil {
					return err
				}
				e.log.Info("nested started", zap.Bool("has_savepoint", nested.HasSavepoint()))
				if err := e.saveMember(ctx, uniqueName("nested-inner")); err != nil {
					return err
				}
				return e.tm.Rollback(ctx, nested)
			})
		},
	},
	{
		name:  "read-only",
		short: "Prints whether a transaction is active and read-only for a read-only definition",
		run: func(ctx context.Context, e *env) error {
			def := pkg.NewTXDefinition(pkg.WithName("reader"), pkg.WithReadOnly(true))
			return e.tm.Transaction(ctx, def, func(ctx context.Context, tx *TXC.Transaction) error {
				e.log.Info("transaction info",
					zap.Bool("active", e.tm.IsActualTransactionActive(ctx)),
					zap.Bool("read_only", e.tm.IsCurrentTransactionReadOnly(ctx)))
				return nil
			})
		},
	},
}

func uniqueName(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}
