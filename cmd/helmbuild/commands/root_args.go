package commands

type RootArgs struct {
	logLevel    *string
	logFormat   *string
	project     *string
	config      *string
	helmVersion *string
	engine      *string
	cacheDir    *string
	cpuProfile  *string
	memProfile  *string
	quiet       *bool
}

func NewRootArgs() *RootArgs {
	return &RootArgs{
		logLevel:    new(string),
		logFormat:   new(string),
		project:     new(string),
		config:      new(string),
		helmVersion: new(string),
		engine:      new(string),
		cacheDir:    new(string),
		cpuProfile:  new(string),
		memProfile:  new(string),
		quiet:       new(bool),
	}
}

func (a *RootArgs) GetLogLevel() string {
	return *a.logLevel
}

func (a *RootArgs) GetLogFormat() string {
	return *a.logFormat
}

func (a *RootArgs) GetProject() string {
	return *a.project
}

func (a *RootArgs) GetConfig() string {
	return *a.config
}

func (a *RootArgs) GetHelmVersion() string {
	return *a.helmVersion
}

func (a *RootArgs) GetEngine() string {
	return *a.engine
}

func (a *RootArgs) GetCacheDir() string {
	return *a.cacheDir
}

func (a *RootArgs) GetCPUProfile() string {
	return *a.cpuProfile
}

func (a *RootArgs) GetMemProfile() string {
	return *a.memProfile
}

func (a *RootArgs) GetQuiet() bool {
	return *a.quiet
}

// StageArgs holds the flags shared by every stage command.
type StageArgs struct {
	chart          *string
	tests          *string
	skip           *[]string
	ignoreFailures *bool
	force          *bool
	dryRun         *bool
	*RootArgs
}

func NewStageArgs(args *RootArgs) *StageArgs {
	return &StageArgs{
		chart:          new(string),
		tests:          new(string),
		skip:           new([]string),
		ignoreFailures: new(bool),
		force:          new(bool),
		dryRun:         new(bool),
		RootArgs:       args,
	}
}

func (a *StageArgs) GetChart() string {
	return *a.chart
}

func (a *StageArgs) GetTests() string {
	return *a.tests
}

func (a *StageArgs) GetSkip() []string {
	return *a.skip
}

func (a *StageArgs) GetIgnoreFailures() bool {
	return *a.ignoreFailures
}

func (a *StageArgs) GetForce() bool {
	return *a.force
}

func (a *StageArgs) GetDryRun() bool {
	return *a.dryRun
}
