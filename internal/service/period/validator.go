// Package period gates postings on the tenant's fiscal calendar. It only reads
// periods; opening and closing them belongs to another system.
package period

import (
	"context"
	"fmt"
	"time"

	"github.com/tinoosan/bizledger/internal/errs"
	"github.com/tinoosan/bizledger/internal/ledger"
)

// AssertOpen returns the single active, open period covering date.
//
// Inactive periods are ignored. With no active period covering the date it
// fails with errs.ErrPeriodNotFound, when every covering period is closed with
// errs.ErrPeriodClosed, and when more than one open period overlaps the date
// with errs.ErrPeriodAmbiguous.
func AssertOpen(ctx context.Context, repo ledger.PeriodRepository, tenantID int64, date time.Time) (ledger.FiscalPeriod, error) {
	day := ledger.DateOf(date)
	periods, err := repo.PeriodsCovering(ctx, tenantID, day)
	if err != nil {
		return ledger.FiscalPeriod{}, fmt.Errorf("load fiscal periods: %w", err)
	}
	var open []ledger.FiscalPeriod
	var closed *ledger.FiscalPeriod
	for i := range periods {
		p := periods[i]
		if !p.Active || !p.Covers(day) {
			continue
		}
		if p.Closed {
			closed = &periods[i]
			continue
		}
		open = append(open, p)
	}
	switch {
	case len(open) == 1:
		return open[0], nil
	case len(open) > 1:
		return ledger.FiscalPeriod{}, errs.Wrap(errs.ErrPeriodAmbiguous, "%d open fiscal periods cover %s", len(open), day.Format(time.DateOnly))
	case closed != nil:
		return ledger.FiscalPeriod{}, errs.Wrap(errs.ErrPeriodClosed, "fiscal period %s covering %s is closed", closed.Name, day.Format(time.DateOnly))
	}
	return ledger.FiscalPeriod{}, errs.Wrap(errs.ErrPeriodNotFound, "no active fiscal period covers %s", day.Format(time.DateOnly))
}
