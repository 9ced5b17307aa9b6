package mocks

//go:generate mockery --name Executor --srcpkg github.com/aevon-lab/tally/internal/insights --output ./insights --outpkg insightsmocks --with-expecter
//go:generate mockery --name DocumentStore --srcpkg github.com/aevon-lab/tally/internal/insights --output ./insights --outpkg insightsmocks --with-expecter
//go:generate mockery --name StatsStore --srcpkg github.com/aevon-lab/tally/internal/core/storage --output ./storage --outpkg storagemocks --with-expecter
