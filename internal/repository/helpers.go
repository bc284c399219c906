package repository

import (
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

func mongoFindOpts(page, limit int) *options.FindOptionsBuilder {
	opts := options.Find()
	if page > 0 && limit > 0 {
		opts.SetSkip(int64((page - 1) * limit))
		opts.SetLimit(int64(limit))
	}
	return opts
}
