package safebox

import "golang.org/x/sync/errgroup"

// UsageAll reports usage for every safebox ListSafeBoxes returns, in the same
// order. A safebox whose walk fails is left out rather than failing the batch.
func (m *Manager) UsageAll(userID string) ([]Usage, error) {
	names, err := m.ListSafeBoxes(userID)
	if err != nil {
		return nil, err
	}

	results := make([]*Usage, len(names))
	var g errgroup.Group
	g.SetLimit(m.usageWorkers)
	for i, name := range names {
		g.Go(func() error {
			u, err := m.Usage(userID, name)
			if err != nil {
				m.logger.Warn("skipping safebox usage", "user", userID, "safebox", name, "error", err)
				return nil
			}
			results[i] = u
			return nil
		})
	}
	g.Wait()

	out := make([]Usage, 0, len(names))
	for _, u := range results {
		if u != nil {
			out = append(out, *u)
		}
	}
	return out, nil
}
