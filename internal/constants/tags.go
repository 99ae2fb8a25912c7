package constants

// Instance tag keys shared with the runner bootstrap scripts and scale-down tooling.
const (
	TagApplication = "Application"
	TagType        = "Type"
	TagOwner       = "Owner"
	TagRepo        = "Repo"
	TagOrg         = "Org"
	TagEnvironment = "Environment"
)

// ApplicationRunner is the Application tag value carried by every runner instance.
const ApplicationRunner = "github-action-runner"

// LaunchTemplateDefaultVersion selects whatever version is marked default on the template.
const LaunchTemplateDefaultVersion = "$Default"

// NATWarning is logged before every call out to EC2 or SSM. A Lambda in a
// private subnet without a NAT route will hang until its timeout.
const NATWarning = "Calling out to AWS. If this times-out, check that any private subnets can connect to " +
	"the public internet via NAT. " +
	"https://aws.amazon.com/premiumsupport/knowledge-center/internet-access-lambda-function/"
