package main

import (
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"

	"santa-workshop/handler"
	"santa-workshop/internal/config"
)

func NewLambdaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lambda",
		Short: "Serve API Gateway proxy events on AWS Lambda",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Load()
			if cfg.StorageBackend == config.BackendMemory {
				// Lambda instances do not share memory; state must live in DynamoDB.
				cfg.StorageBackend = config.BackendDynamoDB
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			h, err := handler.NewHandler(a.router)
			if err != nil {
				return err
			}
			lambda.Start(h.Handle)
			return nil
		},
	}
}
