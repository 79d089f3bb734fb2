package credentials

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	awscreds "github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/credentials/ec2rolecreds"
	"github.com/aws/aws-sdk-go/aws/ec2metadata"
	"github.com/aws/aws-sdk-go/aws/session"
)

// ChainProvider adapts the AWS SDK's default credential provider chain
// (environment variables, shared config/credentials file, EC2 instance
// role) to the Provider interface, so the engine never depends on any
// particular discovery mechanism directly.
type ChainProvider struct {
	creds  *awscreds.Credentials
	region string
}

// NewChainProvider builds the standard env -> shared-file -> EC2-role
// chain for region. The EC2-role leg is built eagerly but only ever
// contacts the instance metadata service if the earlier two legs fail
// to produce credentials.
func NewChainProvider(region string) *ChainProvider {
	providers := []awscreds.Provider{
		&awscreds.EnvProvider{},
		&awscreds.SharedCredentialsProvider{},
	}

	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err == nil {
		providers = append(providers, &ec2rolecreds.EC2RoleProvider{
			Client: ec2metadata.New(sess),
		})
	}

	chain := awscreds.NewCredentials(&awscreds.ChainProvider{Providers: providers})
	return &ChainProvider{creds: chain, region: region}
}

func (p *ChainProvider) Retrieve(ctx context.Context) (Snapshot, error) {
	val, err := p.creds.GetWithContext(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("retrieve aws credentials: %w", err)
	}

	// ExpiresAt errors when the underlying provider doesn't implement
	// the Expirer interface (e.g. plain env/shared-file credentials);
	// treat that as "does not expire" rather than as a fault.
	exp, expErr := p.creds.ExpiresAt()
	if expErr != nil {
		exp = Snapshot{}.Expiration
	}

	return Snapshot{
		AccessKeyID:     val.AccessKeyID,
		SecretAccessKey: val.SecretAccessKey,
		SessionToken:    val.SessionToken,
		Region:          p.region,
		Expiration:      exp,
	}, nil
}
